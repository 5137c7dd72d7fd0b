package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/oauth2"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// minUniquenessRatio is the character-uniqueness floor below which a verifier
// is flagged weak. A 43-character verifier from a CSPRNG lands well above it.
const minUniquenessRatio = 0.3

// weakPrefixes are verifier prefixes commonly seen in hand-typed or
// placeholder values.
var weakPrefixes = []string{"abc", "123", "test", "demo", "qwerty", "sample"}

// weakTerms are dictionary words that indicate a human-chosen verifier.
var weakTerms = []string{"password", "secret", "token", "admin", "letmein", "welcome", "default"}

// PKCEValidator validates verifier/challenge pairs and judges verifier
// strength. It is stateless and safe for concurrent use.
type PKCEValidator struct {
	// RequireForPublicClients makes the absence of PKCE a hard failure for
	// public clients (OAuth 2.1 behavior). Default true via NewPKCEValidator.
	RequireForPublicClients bool

	// StrictS256 rejects the deprecated "plain" challenge method.
	StrictS256 bool
}

// NewPKCEValidator returns a validator with the secure defaults: PKCE
// mandatory for public clients and S256 only.
func NewPKCEValidator() *PKCEValidator {
	return &PKCEValidator{
		RequireForPublicClients: true,
		StrictS256:              true,
	}
}

// PKCEResult is the outcome of a full PKCE flow validation.
type PKCEResult struct {
	// Valid is false when the flow must be rejected.
	Valid bool

	// Risk grades the finding for audit purposes. A valid flow with a weak
	// verifier carries SeverityMedium; a clean flow SeverityLow.
	Risk Severity

	// Reason is a stable machine-readable explanation for invalid results
	// and advisory findings.
	Reason string

	// WeakVerifier marks an RFC-valid but low-entropy verifier. Advisory:
	// the flow is accepted, the finding is surfaced for audit visibility.
	WeakVerifier bool

	// WeakReasons lists the heuristics the verifier tripped.
	WeakReasons []string
}

// ValidateFlow validates a verifier/challenge pair per RFC 7636 and applies
// the strength heuristics. The challenge comparison is constant-time with no
// early exit, so timing reveals nothing about how close a guess was.
func (v *PKCEValidator) ValidateFlow(codeVerifier, codeChallenge, codeChallengeMethod string, isPublicClient bool) PKCEResult {
	if codeVerifier == "" && codeChallenge == "" {
		if isPublicClient && v.RequireForPublicClients {
			return PKCEResult{Valid: false, Risk: SeverityHigh, Reason: "pkce_required_for_public_client"}
		}
		// Confidential client without PKCE: allowed, the client secret is
		// the binding credential.
		return PKCEResult{Valid: true, Risk: SeverityLow, Reason: "pkce_not_used"}
	}

	if codeChallengeMethod == "" {
		codeChallengeMethod = PKCEMethodPlain // RFC 7636 default
	}

	switch codeChallengeMethod {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if v.StrictS256 {
			return PKCEResult{Valid: false, Risk: SeverityMedium, Reason: "plain_method_not_allowed"}
		}
	default:
		return PKCEResult{Valid: false, Risk: SeverityMedium, Reason: "unsupported_challenge_method"}
	}

	if codeVerifier == "" {
		return PKCEResult{Valid: false, Risk: SeverityHigh, Reason: "missing_code_verifier"}
	}
	if len(codeVerifier) < MinCodeVerifierLength {
		return PKCEResult{Valid: false, Risk: SeverityHigh, Reason: "verifier_too_short"}
	}
	if len(codeVerifier) > MaxCodeVerifierLength {
		return PKCEResult{Valid: false, Risk: SeverityLow, Reason: "verifier_too_long"}
	}
	if !validVerifierCharset(codeVerifier) {
		return PKCEResult{Valid: false, Risk: SeverityMedium, Reason: "verifier_invalid_charset"}
	}

	expected, err := GenerateCodeChallenge(codeVerifier, codeChallengeMethod)
	if err != nil {
		return PKCEResult{Valid: false, Risk: SeverityMedium, Reason: "challenge_computation_failed"}
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(codeChallenge)) != 1 {
		return PKCEResult{Valid: false, Risk: SeverityHigh, Reason: "verifier_mismatch"}
	}

	if reasons := weakVerifierFindings(codeVerifier); len(reasons) > 0 {
		return PKCEResult{
			Valid:        true,
			Risk:         SeverityMedium,
			Reason:       "weak_verifier",
			WeakVerifier: true,
			WeakReasons:  reasons,
		}
	}

	return PKCEResult{Valid: true, Risk: SeverityLow}
}

// GenerateCodeVerifier returns a cryptographically random code verifier with
// 256 bits of entropy, encoded per RFC 7636.
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateCodeChallenge computes the challenge for a verifier: SHA-256 then
// base64url for S256, identity for plain.
func GenerateCodeChallenge(verifier, method string) (string, error) {
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case PKCEMethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// validVerifierCharset reports whether s uses only the RFC 7636 unreserved
// set: [A-Za-z0-9] / "-" / "." / "_" / "~".
func validVerifierCharset(s string) bool {
	for _, ch := range s {
		ok := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !ok {
			return false
		}
	}
	return true
}

// weakVerifierFindings runs the heuristic strength checks and returns the
// findings. These are entropy proxies, not proofs: a verifier can pass all of
// them and still be predictable, which is why findings are advisory.
func weakVerifierFindings(verifier string) []string {
	var findings []string

	unique := make(map[rune]struct{}, len(verifier))
	for _, ch := range verifier {
		unique[ch] = struct{}{}
	}
	if ratio := float64(len(unique)) / float64(len(verifier)); ratio < minUniquenessRatio {
		findings = append(findings, "low_character_uniqueness")
	}

	if hasRepeatedRun(verifier, 4) {
		findings = append(findings, "repeated_character_run")
	}

	if allDigits(verifier) {
		findings = append(findings, "digits_only")
	} else if singleCaseLetters(verifier) {
		findings = append(findings, "single_case_only")
	}

	lower := strings.ToLower(verifier)
	for _, prefix := range weakPrefixes {
		if strings.HasPrefix(lower, prefix) {
			findings = append(findings, "weak_prefix")
			break
		}
	}
	for _, term := range weakTerms {
		if strings.Contains(lower, term) {
			findings = append(findings, "dictionary_term")
			break
		}
	}

	return findings
}

// hasRepeatedRun reports whether s contains runLen or more identical
// consecutive characters.
func hasRepeatedRun(s string, runLen int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= runLen {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func allDigits(s string) bool {
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return len(s) > 0
}

// singleCaseLetters reports whether s consists entirely of letters of one
// case, an indicator of human-chosen rather than random input.
func singleCaseLetters(s string) bool {
	hasUpper, hasLower := false, false
	for _, ch := range s {
		switch {
		case ch >= 'A' && ch <= 'Z':
			hasUpper = true
		case ch >= 'a' && ch <= 'z':
			hasLower = true
		default:
			return false
		}
	}
	return hasUpper != hasLower
}
