package security

import (
	"os"
	"sort"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes that are stripped
// from subprocess environments to prevent secret leakage.
// Entries here cover all variables with these prefixes; for variables that
// require exact matching only, see sensitiveEnvExact.
var sensitiveEnvPrefixes = []string{
	"TOOLGATE_",
	"OPENAI_",
	"ANTHROPIC_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"NPM_TOKEN",
	"OTEL_EXPORTER_OTLP_HEADERS",
}

// sensitiveEnvExact are environment variable names that are stripped exactly.
// DATABASE_URL and DB_PASSWORD are exact-only to avoid over-blocking variables
// like DB_PORT or DATABASE_HOST which share the same prefix.
var sensitiveEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
	"SSH_AUTH_SOCK":         {},
}

// minSecretLen is the shortest secret value redacted from environment values.
// Shorter values ("yes", "1") would cause false positives.
const minSecretLen = 8

// SanitizedEnv returns a copy of base with sensitive environment variables
// removed and any of secrets redacted from the remaining values. A nil base
// reads os.Environ(). Entries of extra are appended after sanitization in
// key order, overriding same-named variables from base.
func SanitizedEnv(base []string, extra map[string]string, secrets ...string) []string {
	if base == nil {
		base = os.Environ()
	}
	result := make([]string, 0, len(base)+len(extra))

	for _, entry := range base {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if isSensitiveEnvVar(key) {
			continue
		}
		if _, overridden := extra[key]; overridden {
			continue
		}

		sanitized := entry
		for _, secret := range secrets {
			if len(secret) >= minSecretLen && strings.Contains(sanitized, secret) {
				sanitized = strings.ReplaceAll(sanitized, secret, RedactPlaceholder)
			}
		}
		result = append(result, sanitized)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, k+"="+extra[k])
	}
	return result
}

// isSensitiveEnvVar checks if an environment variable name matches
// a known sensitive prefix or exact name.
func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)

	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}

	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}

	return false
}
