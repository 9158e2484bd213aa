// internal/browser/errors_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

func TestMapError(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	testCases := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{"nil", live, nil, nil},
		{"playwright timeout", live, playwright.ErrTimeout, schemas.ErrTimeout},
		{"timeout message", live, errors.New("Timeout 2000ms exceeded."), schemas.ErrTimeout},
		{"strict mode", live, errors.New("strict mode violation: locator resolved to 3 elements"), schemas.ErrMultipleMatches},
		{"cancelled context wins", cancelled, playwright.ErrTimeout, context.Canceled},
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

	t.Run("other errors pass through", func(t *testing.T) {
		orig := errors.New("target closed")
		assert.Same(t, orig, mapError(live, orig))
	})
}

func TestOpTimeout(t *testing.T) {
	assert.Equal(t, 2000.0, *opTimeout(context.Background(), 2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	got := *opTimeout(ctx, 10*time.Second)
	assert.LessOrEqual(t, got, 500.0)
	assert.Greater(t, got, 0.0)

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, 1.0, *opTimeout(expired, time.Second), "an expired deadline never maps to zero")
}

func TestTranslateSelector(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"#login", "#login"},
		{"text=Sign in >> nth=0", "text=Sign in >> nth=0"},
		{`[aria-label="Email"]`, `[aria-label="Email"]`},
		{"label=Email", `internal:label="Email"i`},
		{`label="Email address"`, `internal:label="Email address"s`},
		{"label=/e-?mail/i", "internal:label=/e-?mail/i"},
		{"form >> label=Password >> nth=0", `form >> internal:label="Password"i >> nth=0`},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, translateSelector(tt.in))
		})
	}
}

func TestDecodeElements(t *testing.T) {
	raw := []any{
		map[string]any{"tag": "button", "text": "Go", "id": "go", "visible": true},
		map[string]any{"tag": "input", "type": "email", "name": "email", "aria_label": "Email", "visible": false},
	}
	got, err := decodeElements(raw)
	require.NoError(t, err)
	assert.Equal(t, []schemas.ElementInfo{
		{Tag: "button", Text: "Go", ID: "go", Visible: true},
		{Tag: "input", Type: "email", Name: "email", AriaLabel: "Email"},
	}, got)

	_, err = decodeElements("not a list")
	assert.Error(t, err)
}

func TestSleep(t *testing.T) {
	require.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleep(ctx, 0), context.Canceled)
}
