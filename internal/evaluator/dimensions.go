package evaluator

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/dimensions.yaml
var defaultDimensionsYAML []byte

// DefaultDimensions returns the built-in quality dimension set used when a
// task doesn't carry its own, parsed once from the embedded YAML.
func DefaultDimensions() []Dimension {
	var dims []Dimension
	if err := yaml.Unmarshal(defaultDimensionsYAML, &dims); err != nil {
		panic("evaluator: malformed embedded default dimensions: " + err.Error())
	}
	out := make([]Dimension, len(dims))
	copy(out, dims)
	return out
}
