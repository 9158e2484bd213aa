// internal/browser/session/page_test.go
package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

func TestMapError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	testCases := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{"nil", context.Background(), nil, nil},
		{"not found", context.Background(), errors.New("javascript Uncaught: Error: atlas:not_found"), schemas.ErrElementNotFound},
		{"multiple", context.Background(), errors.New("javascript Uncaught: Error: atlas:multiple: 3"), schemas.ErrMultipleMatches},
		{"deadline", context.Background(), context.DeadlineExceeded, schemas.ErrTimeout},
		{"caller cancelled", cancelled, errors.New("atlas:not_found"), context.Canceled},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.ctx, tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := errors.New("target closed")
	assert.Equal(t, other, mapError(context.Background(), other))
}

func TestExceptionError(t *testing.T) {
	err := exceptionError(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "Error: atlas:multiple: 2"},
	})
	assert.EqualError(t, err, "javascript Uncaught: Error: atlas:multiple: 2")
	assert.ErrorIs(t, mapError(context.Background(), err), schemas.ErrMultipleMatches)

	assert.EqualError(t, exceptionError(&runtime.ExceptionDetails{Text: "SyntaxError"}), "javascript SyntaxError")
}

func TestRectFromQuad(t *testing.T) {
	r, ok := rectFromQuad([]float64{10, 20, 110, 20, 110, 70, 10, 70})
	assert.True(t, ok)
	assert.Equal(t, schemas.Rect{X: 10, Y: 20, Width: 100, Height: 50}, r)

	_, ok = rectFromQuad([]float64{5, 5, 5, 5, 5, 5, 5, 5})
	assert.False(t, ok, "collapsed quad")
	_, ok = rectFromQuad([]float64{1, 2})
	assert.False(t, ok)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, sleep(t.Context(), 0))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, sleep(ctx, 0), context.Canceled)
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}
