package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ProviderKind enumerates supported provider kinds. Custom providers are
// allowed but must declare a validated capability set at registry load.
type ProviderKind string

const (
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindVertexAI  ProviderKind = "vertexai"
	ProviderKindBedrock   ProviderKind = "bedrock"
	ProviderKindCustom    ProviderKind = "custom"
)

// KnownCapabilities is the closed set of capability tags the registry
// accepts. Custom providers may only declare tags from this set.
var KnownCapabilities = []string{
	"chat",
	"completion",
	"embedding",
	"vision",
	"tools",
	"json_mode",
	"streaming",
	"long_context",
}

// Provider is an immutable catalog entry for an external API provider.
// Reference data only; reloaded out-of-band, never mutated per request.
type Provider struct {
	ID            string         `db:"id" yaml:"id"`
	DisplayName   string         `db:"display_name" yaml:"display_name"`
	Kind          ProviderKind   `db:"kind" yaml:"kind"`
	Tier          string         `db:"tier" yaml:"tier"`
	Endpoint      string         `db:"endpoint" yaml:"endpoint"`
	AuthHeader    string         `db:"auth_header" yaml:"auth_header"`
	AuthPrefix    string         `db:"auth_prefix" yaml:"auth_prefix"`
	Capabilities  pq.StringArray `db:"capabilities" yaml:"capabilities"`
	Regions       pq.StringArray `db:"regions" yaml:"regions"`
	ContextWindow int            `db:"context_window" yaml:"context_window"`
	MinCostPerK   float64        `db:"min_cost_per_k" yaml:"min_cost_per_k"`
	MaxCostPerK   float64        `db:"max_cost_per_k" yaml:"max_cost_per_k"`
	Enabled       bool           `db:"enabled" yaml:"enabled"`
	CreatedAt     time.Time      `db:"created_at" yaml:"-"`
	UpdatedAt     time.Time      `db:"updated_at" yaml:"-"`

	// Not stored on the providers row; populated from provider_models.
	Models []ProviderModel `db:"-" yaml:"models"`
}

// ProviderModel is one model offered by a provider, with its own cost
// point and optional capability overrides.
type ProviderModel struct {
	ProviderID    string         `db:"provider_id" yaml:"-"`
	Name          string         `db:"name" yaml:"name"`
	CostPerK      float64        `db:"cost_per_k" yaml:"cost_per_k"`
	ContextWindow int            `db:"context_window" yaml:"context_window"`
	Capabilities  pq.StringArray `db:"capabilities" yaml:"capabilities"`
}

// HasCapability checks the provider-level capability tags.
func (p *Provider) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ServesRegion reports whether the provider operates in the given region.
// An empty region list means globally available.
func (p *Provider) ServesRegion(region string) bool {
	if region == "" || len(p.Regions) == 0 {
		return true
	}
	for _, r := range p.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Validate checks catalog invariants at load time so routing never has to.
func (p *Provider) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider missing id")
	}
	switch p.Kind {
	case ProviderKindOpenAI, ProviderKindAnthropic, ProviderKindVertexAI, ProviderKindBedrock:
	case ProviderKindCustom:
		if len(p.Capabilities) == 0 {
			return fmt.Errorf("custom provider %q must declare capabilities", p.ID)
		}
	default:
		return fmt.Errorf("provider %q has unknown kind %q", p.ID, p.Kind)
	}
	for _, tag := range p.Capabilities {
		if !isKnownCapability(tag) {
			return fmt.Errorf("provider %q declares unknown capability %q", p.ID, tag)
		}
	}
	if p.MinCostPerK < 0 || p.MaxCostPerK < p.MinCostPerK {
		return fmt.Errorf("provider %q has invalid cost range [%f, %f]", p.ID, p.MinCostPerK, p.MaxCostPerK)
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("provider %q has no models", p.ID)
	}
	for _, m := range p.Models {
		if m.Name == "" {
			return fmt.Errorf("provider %q has a model without a name", p.ID)
		}
		if m.CostPerK < 0 {
			return fmt.Errorf("model %q of provider %q has negative cost", m.Name, p.ID)
		}
		for _, tag := range m.Capabilities {
			if !isKnownCapability(tag) {
				return fmt.Errorf("model %q of provider %q declares unknown capability %q", m.Name, p.ID, tag)
			}
		}
	}
	return nil
}

func isKnownCapability(tag string) bool {
	for _, c := range KnownCapabilities {
		if c == tag {
			return true
		}
	}
	return false
}
