package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashStringIsStableHexDigest(t *testing.T) {
	token := "vt-1f6a3c9d2e8b74a0c5f1d9e3b7a28c40"

	digest := HashString(token)
	assert.Len(t, digest, 64)
	assert.Regexp(t, regexp.MustCompile("^[0-9a-f]{64}$"), digest)
	assert.Equal(t, digest, HashString(token), "lookups depend on a stable digest")
}

func TestHashStringDistinguishesTokens(t *testing.T) {
	base := "vt-1f6a3c9d2e8b74a0c5f1d9e3b7a28c40"
	for _, other := range []string{
		"vt-1f6a3c9d2e8b74a0c5f1d9e3b7a28c41",
		"VT-1f6a3c9d2e8b74a0c5f1d9e3b7a28c40",
		base + " ",
		"",
	} {
		assert.NotEqual(t, HashString(base), HashString(other))
	}
}
