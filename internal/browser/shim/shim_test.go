// internal/browser/shim/shim_test.go
package shim_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/xkilldash9x/atlas-cli/internal/browser/shim"
)

func TestBuildScript(t *testing.T) {
	t.Parallel()

	mockTemplate := `(function() { const config = /*{{ATLAS_ENGINE_CONFIG}}*/; })();`

	t.Run("should inject the value into the template", func(t *testing.T) {
		t.Parallel()
		script, err := BuildScript(mockTemplate, ConfigPlaceholder, `{"namespace":"x"}`)
		require.NoError(t, err)
		assert.Equal(t, `(function() { const config = {"namespace":"x"}; })();`, script)
	})

	t.Run("should reject an empty template", func(t *testing.T) {
		t.Parallel()
		_, err := BuildScript("", ConfigPlaceholder, "{}")
		assert.EqualError(t, err, "template is empty")
	})

	t.Run("should reject a template without the placeholder", func(t *testing.T) {
		t.Parallel()
		_, err := BuildScript("console.log(1);", ConfigPlaceholder, "{}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ConfigPlaceholder)
	})

	t.Run("should reject an empty value", func(t *testing.T) {
		t.Parallel()
		_, err := BuildScript(mockTemplate, ConfigPlaceholder, "  ")
		assert.Error(t, err)
	})
}

// Verifies the rendered engine carries its config and the describe function.
func TestBuildEngine(t *testing.T) {
	t.Parallel()

	script, err := BuildEngine(EngineConfig{})
	require.NoError(t, err)
	assert.NotContains(t, script, ConfigPlaceholder)
	assert.NotContains(t, script, DescribePlaceholder)
	assert.Contains(t, script, `"namespace":"__atlas"`)
	assert.Contains(t, script, strings.TrimSpace(DescribeScript))

	custom, err := BuildEngine(EngineConfig{Namespace: "__atlas_test", Version: "7"})
	require.NoError(t, err)
	assert.Contains(t, custom, `{"namespace":"__atlas_test","version":"7"}`)
}

func TestCall(t *testing.T) {
	t.Parallel()

	expr, err := Call("", "attribute", "text=Sign in", true, "href")
	require.NoError(t, err)
	assert.Equal(t, `window["__atlas"].attribute("text=Sign in", true, "href")`, expr)

	expr, err = Call("__atlas_test", "count", `a[title="x"]`)
	require.NoError(t, err)
	assert.Equal(t, `window["__atlas_test"].count("a[title=\"x\"]")`, expr)
}

// Verifies the describe function emits the JSON keys of schemas.ElementInfo.
func TestDescribeScript_Keys(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"tag:", "type:", "text:", "name:", "id:", "placeholder:", "aria_label:", "href:", "visible:"} {
		assert.Contains(t, DescribeScript, key)
	}
}
