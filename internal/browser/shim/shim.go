// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

const (
	// ConfigPlaceholder is replaced in the engine template with the JSON engine configuration.
	ConfigPlaceholder = "/*{{ATLAS_ENGINE_CONFIG}}*/"
	// DescribePlaceholder is replaced in the engine template with DescribeScript.
	DescribePlaceholder = "/*{{ATLAS_DESCRIBE}}*/"

	DefaultNamespace = "__atlas"
	engineVersion    = "1"
)

//go:embed engine.js
var engineTemplate string

// DescribeScript is a function expression taking (elements, limit) and
// returning one element summary per element, shaped like schemas.ElementInfo.
//
//go:embed describe.js
var DescribeScript string

// EngineConfig is serialized into the injected selector engine.
type EngineConfig struct {
	Namespace string `json:"namespace"`
	Version   string `json:"version"`
}

// BuildScript injects value into the template at placeholder.
func BuildScript(template, placeholder, value string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, placeholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", placeholder)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("value for placeholder %s is empty", placeholder)
	}
	return strings.Replace(template, placeholder, value, 1), nil
}

// BuildEngine renders the selector engine. Evaluating the result installs
// the engine on window[cfg.Namespace]; re-evaluating is a no-op.
func BuildEngine(cfg EngineConfig) (string, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Version == "" {
		cfg.Version = engineVersion
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode engine config: %w", err)
	}

	script, err := BuildScript(engineTemplate, DescribePlaceholder, strings.TrimSpace(DescribeScript))
	if err != nil {
		return "", err
	}
	return BuildScript(script, ConfigPlaceholder, string(raw))
}

// Call renders an expression invoking fn on the installed engine with
// JSON-encoded arguments.
func Call(namespace, fn string, args ...any) (string, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d for %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("window[%q].%s(%s)", namespace, fn, strings.Join(encoded, ", ")), nil
}
