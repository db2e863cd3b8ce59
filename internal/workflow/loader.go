package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/voicebooks/pkg/types"
)

// CatalogOverrides customizes the built-in catalogs from a YAML file:
// step prompts and the invoice line-item cap. The step order and vocabulary
// are fixed; an override naming an unknown step or kind is rejected.
type CatalogOverrides struct {
	Workflows map[string]KindOverride `yaml:"workflows"`
}

type KindOverride struct {
	Prompts      map[string]string `yaml:"prompts,omitempty"`
	MaxLineItems int               `yaml:"max_line_items,omitempty"`
}

// ParseOverrides decodes catalog overrides from YAML bytes.
func ParseOverrides(data []byte) (CatalogOverrides, error) {
	var o CatalogOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return CatalogOverrides{}, fmt.Errorf("catalog overrides: decode: %w", err)
	}
	return o, nil
}

// LoadOverridesFile loads catalog overrides from an explicit file path.
func LoadOverridesFile(path string) (CatalogOverrides, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return CatalogOverrides{}, fmt.Errorf("catalog overrides: read %s: %w", path, err)
	}
	return ParseOverrides(content)
}

// Apply rewrites the matching catalogs in place.
func (o CatalogOverrides) Apply(catalogs map[types.WorkflowKind]*Catalog) error {
	for kind, ov := range o.Workflows {
		c, ok := catalogs[types.WorkflowKind(kind)]
		if !ok {
			return fmt.Errorf("catalog overrides: unknown workflow kind %q", kind)
		}
		for step, prompt := range ov.Prompts {
			idx := c.Index(StepID(step))
			if idx < 0 {
				return fmt.Errorf("catalog overrides: workflow %s has no step %q", kind, step)
			}
			c.Steps[idx].Prompt = prompt
		}
		if ov.MaxLineItems != 0 {
			if c.LoopStep == "" {
				return fmt.Errorf("catalog overrides: workflow %s has no repeatable step", kind)
			}
			if ov.MaxLineItems < 1 {
				return fmt.Errorf("catalog overrides: workflow %s: max_line_items must be positive", kind)
			}
			c.MaxLineItems = ov.MaxLineItems
		}
	}
	return nil
}
