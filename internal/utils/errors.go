package utils

import (
	"strings"
)

// IsRecoverableError reports whether a provider attempt error is worth
// retrying on another candidate. Upstream HTTP failures are; local
// errors (auth, validation, storage) are not.
func IsRecoverableError(err error) bool {
	recoverablePrefixes := []string{
		"provider API returned status",
	}

	for _, prefix := range recoverablePrefixes {
		if strings.HasPrefix(err.Error(), prefix) {
			return true
		}
	}
	return false
}
