package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any attribute whose key names a secret.
const RedactedValue = "[REDACTED]"

var secretMarkers = []string{"secret", "token", "password", "signature", "authorization"}

// Sensitive reports whether an attribute key names credential material.
func Sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// redact masks non-empty string values of sensitive keys. Setup installs it on
// every handler, so callers never need to mask by hand.
func redact(attr slog.Attr) slog.Attr {
	if !Sensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
