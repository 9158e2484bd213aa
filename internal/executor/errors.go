// internal/executor/errors.go
package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// isTimeout reports whether err means a wait ran out of time.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, schemas.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// isMultipleMatch reports whether err is a strict-mode violation.
func isMultipleMatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, schemas.ErrMultipleMatches) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "strict mode violation") || strings.Contains(msg, "resolved to")
}

// ParseBrowserError maps a driver error to an ErrorCode. Sentinels are
// checked first; message heuristics cover drivers that only return text.
func ParseBrowserError(err error) schemas.ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, schemas.ErrElementNotFound):
		return schemas.CodeElementNotFound
	case isTimeout(err):
		return schemas.CodeTimeoutError
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR"):
		return schemas.CodeNavigationError
	case strings.Contains(msg, "no element found") || strings.Contains(msg, "not found"):
		return schemas.CodeElementNotFound
	}
	return schemas.CodeActionFailed
}
