package root

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Daftar platform admin CLI. Subcommands
// (tenant, sessions, cache, ratelimit) are attached here.
var rootCmd = &cobra.Command{
	Use:           "daftar",
	Short:         "Daftar platform admin CLI",
	Long:          "Administrative utilities for the Daftar coordination layer (tenant directory, sessions, cache, rate limits).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
