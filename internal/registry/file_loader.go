package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vault_router/internal/models"
)

// seedFile is the YAML shape of a catalog seed.
type seedFile struct {
	Providers []*models.Provider `yaml:"providers"`
}

// LoadSeedFile reads and validates a YAML provider catalog. Validation
// happens here, at load time, so routing never has to re-check catalog
// invariants per call.
func LoadSeedFile(path string) ([]*models.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(seed.Providers))
	for _, p := range seed.Providers {
		for i := range p.Models {
			p.Models[i].ProviderID = p.ID
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate provider id %q in seed file", p.ID)
		}
		seen[p.ID] = true
	}

	return seed.Providers, nil
}
