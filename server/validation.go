package server

import (
	"net/url"
	"strings"
)

// maxScreenshots bounds how many screenshot URLs an application may carry.
const maxScreenshots = 4

// validateRedirectURI reports whether a single redirect URI is syntactically
// acceptable: absolute, with a scheme and host, and free of fragments.
func validateRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "" || u.Host == "" {
		return false
	}
	if u.Fragment != "" {
		return false
	}
	return true
}

// validateRedirectURIs checks the full list at registration time.
func validateRedirectURIs(uris []string) *ValidationError {
	if len(uris) == 0 {
		return NewValidationError("redirect_uris", "at least one redirect URI is required")
	}
	for _, uri := range uris {
		if !validateRedirectURI(uri) {
			return NewValidationError("redirect_uris", "redirect URI must be absolute with scheme and host, without fragment")
		}
	}
	return nil
}

// scopesAllowed reports whether every requested scope is within granted.
// An empty granted list means the application may request any scope.
func scopesAllowed(requested, granted []string) bool {
	if len(granted) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

// slugify derives a URL-safe slug from a display name: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, trimmed.
func slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}
