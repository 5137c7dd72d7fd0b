// Package util provides small shared helpers used across the module.
package util

import "strings"

// SafeTruncate returns at most maxLen leading characters of s without
// panicking. Used when logging token or code values, where only a short
// prefix may ever appear in output.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes for issuer/audience comparison, where
// "https://example.com" and "https://example.com/" are the same server.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
