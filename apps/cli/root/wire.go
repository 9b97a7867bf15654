package root

import (
	cachecmd "github.com/daftarhq/daftar-saas/apps/cli/cmd/cache"
	ratelimitcmd "github.com/daftarhq/daftar-saas/apps/cli/cmd/ratelimit"
	sessionscmd "github.com/daftarhq/daftar-saas/apps/cli/cmd/sessions"
	tenantcmd "github.com/daftarhq/daftar-saas/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(sessionscmd.Command())
	Root().AddCommand(cachecmd.Command())
	Root().AddCommand(ratelimitcmd.Command())
}
