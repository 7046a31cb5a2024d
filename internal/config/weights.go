package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/justicehub-au/alma-engine/internal/model"
)

// LoadWeightSets reads named weight sets from a YAML file. Community
// steering groups hand these over as files, so imports go through here
// rather than through environment-driven config.
func LoadWeightSets(path string) ([]model.WeightSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read weight sets %s", path)
	}

	// The YAML has a top-level "weight_sets" key
	var wrapper struct {
		WeightSets []model.WeightSet `yaml:"weight_sets"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse weight sets")
	}
	if len(wrapper.WeightSets) == 0 {
		return nil, eris.Errorf("config: no weight sets in %s", path)
	}

	for _, ws := range wrapper.WeightSets {
		if ws.Name == "" {
			return nil, eris.New("config: weight set missing name")
		}
		if err := ws.Validate(); err != nil {
			return nil, eris.Wrapf(err, "config: weight set %q", ws.Name)
		}
	}
	return wrapper.WeightSets, nil
}
