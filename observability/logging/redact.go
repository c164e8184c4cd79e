package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":  {},
	"env":      {},
	"error":    {},
	"reason":   {},
	"workflow": {},
	"action":   {},
	"contract": {},
	"method":   {},
	"tx":       {},
	"chain_id": {},
}

// IsAllowlisted reports whether the provided key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskEndpoint keeps the scheme and host of an RPC URL and redacts the rest.
// Hosted node URLs commonly carry API keys in the path or query.
func MaskEndpoint(key, raw string) slog.Attr {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return MaskField(key, raw)
	}
	masked := u.Scheme + "://" + u.Host
	if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		masked += "/" + RedactedValue
	}
	return slog.String(key, masked)
}
