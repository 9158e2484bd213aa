// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tabKey struct{}

// Verifies the combined context keeps the tab's values and ends with either parent.
func TestCombineContext(t *testing.T) {
	testCases := []struct {
		name string
		// end cancels one side (or the combined context itself).
		end func(cancelTab, cancelReq, cancelCombined context.CancelFunc)
	}{
		{"tab closed", func(tab, _, _ context.CancelFunc) { tab() }},
		{"request cancelled", func(_, req, _ context.CancelFunc) { req() }},
		{"released", func(_, _, combined context.CancelFunc) { combined() }},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			tabCtx, cancelTab := context.WithCancel(context.WithValue(context.Background(), tabKey{}, "tab-1"))
			defer cancelTab()
			reqCtx, cancelReq := context.WithCancel(context.Background())
			defer cancelReq()

			combined, cancelCombined := CombineContext(tabCtx, reqCtx)
			defer cancelCombined()

			assert.Equal(t, "tab-1", combined.Value(tabKey{}))
			require.NoError(t, combined.Err())

			tt.end(cancelTab, cancelReq, cancelCombined)
			select {
			case <-combined.Done():
			case <-time.After(time.Second):
				t.Fatal("combined context was not cancelled")
			}
			assert.ErrorIs(t, combined.Err(), context.Canceled)
		})
	}
}

// A request deadline surfaces as cancellation; callers inspect the request
// context to tell a timeout apart.
func TestCombineContext_RequestDeadline(t *testing.T) {
	reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	combined, release := CombineContext(context.Background(), reqCtx)
	defer release()

	<-combined.Done()
	assert.ErrorIs(t, combined.Err(), context.Canceled)
	assert.ErrorIs(t, reqCtx.Err(), context.DeadlineExceeded)

	_, hasDeadline := combined.Deadline()
	assert.False(t, hasDeadline, "only the tab context contributes a deadline")
}
