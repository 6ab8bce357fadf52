package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileRule is the YAML representation of one mapping rule. An optional values
// table becomes a lookup transform.
type FileRule struct {
	Source   string            `yaml:"source"`
	Target   string            `yaml:"target"`
	Required bool              `yaml:"required"`
	Values   map[string]string `yaml:"values,omitempty"`
}

type mappingFile struct {
	Rules []FileRule `yaml:"rules"`
}

// LoadFile reads mapping rules from a YAML file. Rules loaded this way replace
// the provider defaults wholesale, so the file must cover the required fields
// itself; Validate enforces that before any import starts.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("mapping file %s declares no rules", path)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		if fr.Source == "" || fr.Target == "" {
			return nil, fmt.Errorf("mapping file rule %d: source and target are required", i)
		}
		r := Rule{
			SourceField: fr.Source,
			TargetField: fr.Target,
			Required:    fr.Required,
		}
		if len(fr.Values) > 0 {
			r.Transform = Lookup(fr.Values)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
