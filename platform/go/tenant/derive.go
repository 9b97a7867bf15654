package tenant

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// storeNamePattern constrains stored isolated-store names so a registry row
// can never smuggle DSN syntax into the derived connection string.
var storeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// BuildStoreDSN substitutes the tenant's isolated-store name into the
// configured DSN template (a printf template with a single %s verb, e.g.
// "postgres://app:secret@db:5432/%s?sslmode=disable").
func BuildStoreDSN(template, storeName string) (string, error) {
	if strings.Count(template, "%s") != 1 {
		return "", fmt.Errorf("store dsn template must contain exactly one %%s verb")
	}
	if !storeNamePattern.MatchString(storeName) {
		return "", fmt.Errorf("invalid isolated store name %q", storeName)
	}
	return fmt.Sprintf(template, storeName), nil
}

// ToSnake converts a kebab-case tenant slug into snake_case for store names.
func ToSnake(slug string) string {
	return strings.ReplaceAll(strings.ToLower(slug), "-", "_")
}

// BuildStoreName returns the canonical isolated-store name for a tenant
// given envKey and the tenant slug transformed to snake_case.
// Format: <envKey>__tenant_<slugSnake> — double underscore keeps the env
// prefix visually separated and reduces accidental collisions.
func BuildStoreName(envKey, slugSnake string) string {
	envKey = strings.TrimSpace(envKey)
	return envKey + "__tenant_" + slugSnake
}

// SubdomainFromHost extracts the tenant subdomain from a request host when
// it is a single label under baseDomain; ok is false otherwise.
func SubdomainFromHost(host, baseDomain string) (string, bool) {
	if host == "" || baseDomain == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	baseDomain = strings.ToLower(baseDomain)

	suffix := "." + baseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}
