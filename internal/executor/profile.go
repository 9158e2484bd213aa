// internal/executor/profile.go
package executor

import (
	"strings"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Profile placeholders the oracle may use instead of real values.
const (
	PlaceholderEmail    = "{{profile.email}}"
	PlaceholderPassword = "{{profile.password}}"
)

// ResolveProfile substitutes profile placeholders in a fill value. Other
// actions, and fills without placeholders, are returned unchanged. Extra data
// keys resolve as {{profile.<key>}}.
func ResolveProfile(action schemas.Action, profile *schemas.Profile) schemas.Action {
	fill, isFill := action.(schemas.FillAction)
	if !isFill || profile == nil || !strings.Contains(fill.Value, "{{profile.") {
		return action
	}
	pairs := []string{
		PlaceholderEmail, profile.Email,
		PlaceholderPassword, profile.Password,
	}
	for k, v := range profile.ExtraData {
		pairs = append(pairs, "{{profile."+k+"}}", v)
	}
	fill.Value = strings.NewReplacer(pairs...).Replace(fill.Value)
	return fill
}
