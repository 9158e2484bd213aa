package schemas_test

import (
	"testing"
	"time"
)

// fixedTime is the timestamp used wherever a test needs a stable clock.
func fixedTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, time.October, 26, 10, 0, 0, 0, time.UTC)
}
