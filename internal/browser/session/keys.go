// internal/browser/session/keys.go
package session

import (
	"fmt"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps DOM key names to the kb sequences chromedp understands.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

// keySequence resolves a key name, or a single printable character, to the
// string passed to chromedp.KeyEvent.
func keySequence(key string) (string, error) {
	if seq, ok := namedKeys[key]; ok {
		return seq, nil
	}
	if utf8.RuneCountInString(key) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}
