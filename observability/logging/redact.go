package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive material in log output.
const RedactedValue = "[REDACTED]"

// MaskToken returns a slog.Attr carrying a redacted session or auth token.
// Wallet session tokens never appear in logs in the clear.
func MaskToken(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// AbbreviatePrincipal shortens a principal for log readability while keeping
// enough of it to correlate across lines.
func AbbreviatePrincipal(principal string) string {
	if len(principal) <= 9 {
		return principal
	}
	return principal[:5] + "..." + principal[len(principal)-4:]
}
