package registry

import (
	"bytes"
	"errors"
	"io"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/directory-cli/internal/model"
)

// Overrides adjusts the built-in registry per entity type.
//
//	types:
//	  hotel:
//	    disabled: [image_extraction]
//	    steps:
//	      web_research:
//	        max_retries: 4
//	        timeout: 2m
//	        critical: false
type Overrides struct {
	Types map[model.EntityType]TypeOverride `yaml:"types"`
}

// TypeOverride holds the adjustments for one entity type.
type TypeOverride struct {
	Disabled []string                `yaml:"disabled"`
	Steps    map[string]StepOverride `yaml:"steps"`
}

// StepOverride replaces individual step settings. Nil fields keep the default.
type StepOverride struct {
	MaxRetries *int           `yaml:"max_retries"`
	Timeout    *time.Duration `yaml:"timeout"`
	Critical   *bool          `yaml:"critical"`
	EstCostUSD *float64       `yaml:"est_cost_usd"`
}

// LoadOverridesFile reads a YAML overrides file.
func LoadOverridesFile(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read overrides")
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes YAML overrides. Unknown keys are rejected.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		if errors.Is(err, io.EOF) {
			return &o, nil
		}
		return nil, eris.Wrap(err, "registry: decode overrides")
	}
	return &o, nil
}

// Apply returns a new registry with o applied. Unknown entity types and step
// names are rejected, as is disabling a critical step.
func (r *Registry) Apply(o *Overrides) (*Registry, error) {
	if o == nil || len(o.Types) == 0 {
		return r, nil
	}

	out := &Registry{byType: make(map[model.EntityType][]Step, len(r.byType))}
	for t, steps := range r.byType {
		cp := make([]Step, len(steps))
		for i, s := range steps {
			cp[i] = s.clone()
		}
		out.byType[t] = cp
	}

	types := make([]string, 0, len(o.Types))
	for t := range o.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)

	for _, name := range types {
		t := model.EntityType(name)
		to := o.Types[t]
		steps, ok := out.byType[t]
		if !ok {
			return nil, eris.Errorf("registry: override for unknown entity type %q", t)
		}

		for stepName, so := range to.Steps {
			idx := slices.IndexFunc(steps, func(s Step) bool { return s.Name == stepName })
			if idx < 0 {
				return nil, eris.Errorf("registry: override for unknown step %s/%s", t, stepName)
			}
			if so.MaxRetries != nil {
				steps[idx].MaxRetries = *so.MaxRetries
			}
			if so.Timeout != nil {
				steps[idx].Timeout = *so.Timeout
			}
			if so.Critical != nil {
				steps[idx].Critical = *so.Critical
			}
			if so.EstCostUSD != nil {
				steps[idx].EstCostUSD = *so.EstCostUSD
			}
		}

		for _, d := range to.Disabled {
			idx := slices.IndexFunc(steps, func(s Step) bool { return s.Name == d })
			if idx < 0 {
				return nil, eris.Errorf("registry: cannot disable unknown step %s/%s", t, d)
			}
			if steps[idx].Critical {
				return nil, eris.Errorf("registry: cannot disable critical step %s/%s", t, d)
			}
			steps = slices.Delete(steps, idx, idx+1)
		}
		out.byType[t] = steps
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
