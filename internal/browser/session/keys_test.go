// internal/browser/session/keys_test.go
package session

import (
	"testing"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySequence(t *testing.T) {
	testCases := []struct {
		key  string
		want string
	}{
		{"Enter", kb.Enter},
		{"Tab", kb.Tab},
		{"Escape", kb.Escape},
		{"ArrowDown", kb.ArrowDown},
		{"a", "a"},
		{"ş", "ş"},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.key, func(t *testing.T) {
			got, err := keySequence(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := keySequence("Hyper+Q")
	assert.EqualError(t, err, `unsupported key "Hyper+Q"`)
}
