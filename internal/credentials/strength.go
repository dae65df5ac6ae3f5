package credentials

import (
	"strings"
	"unicode"
)

// DefaultStrengthThreshold is the minimum score AddCredential accepts.
const DefaultStrengthThreshold = 50

// placeholder fragments that mark a key as a test or dummy value
var placeholderFragments = []string{
	"test", "demo", "example", "sample", "password", "changeme",
	"xxx", "dummy", "placeholder", "your-key", "your_key",
}

// providerPrefixes maps provider ids to the key prefixes their real
// credentials carry. A matching prefix is a strong signal the key was
// issued by the provider rather than typed by hand.
var providerPrefixes = map[string][]string{
	"openai":    {"sk-"},
	"anthropic": {"sk-ant-"},
	"vertexai":  {"ya29.", "AIza"},
}

// ScoreStrength rates a plaintext key from 0 to 100. The heuristics are
// provider-aware: length and character diversity form the base, a known
// issuer prefix adds confidence, and placeholder or degenerate values
// collapse the score regardless of length.
func ScoreStrength(providerID, key string) int {
	if key == "" {
		return 0
	}

	lower := strings.ToLower(key)
	for _, frag := range placeholderFragments {
		if strings.Contains(lower, frag) {
			return 5
		}
	}
	if allSameRune(key) {
		return 5
	}

	score := len(key) * 2
	if score > 40 {
		score = 40
	}

	var hasLower, hasUpper, hasDigit, hasOther bool
	for _, r := range key {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	for _, present := range []bool{hasLower, hasUpper, hasDigit, hasOther} {
		if present {
			score += 10
		}
	}

	// digits-only values are guessable no matter how long
	if hasDigit && !hasLower && !hasUpper && !hasOther {
		if score > 15 {
			score = 15
		}
		return score
	}

	for _, prefix := range providerPrefixes[providerID] {
		if strings.HasPrefix(key, prefix) {
			score += 20
			break
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

func allSameRune(s string) bool {
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}
