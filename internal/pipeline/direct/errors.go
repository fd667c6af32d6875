package direct

import (
	"errors"
	"strings"
)

// FriendlyProviderError turns a provider error into the plain-English text
// a sender should see, applied at the boundary where the pipeline gives up
// rather than inside the provider adapter itself.
func FriendlyProviderError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "The provider took too long to respond. Please try again."
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "I couldn't reach the provider right now. Please try again shortly."
	default:
		return "Something went wrong talking to the provider. Please try again."
	}
}

var errNoActiveSession = errors.New("direct: no active provider session")
