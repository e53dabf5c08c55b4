package executor

import "strings"

// authFailurePhrases are stderr fragments the Kubernetes CLI tools emit when
// credentials are missing, expired, or the API server is unreachable. They
// re-tag a generic execution error as an authentication failure so callers
// can react (refresh credentials) instead of retrying blindly.
var authFailurePhrases = []string{
	"unauthorized",
	"unable to connect to the server",
	"you must be logged in",
	"invalid bearer token",
	"credentials are expired",
	"forbidden: user",
}

func isAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, phrase := range authFailurePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
