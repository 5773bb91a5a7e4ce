package config

import (
	"fmt"

	"github.com/maestro-sh/maestro/internal/model"
)

// autoSentinel is the persisted value meaning "defer to the next
// precedence tier". It exists only at this boundary; the domain layer
// sees a Choice with Explicit=false instead.
const autoSentinel = "auto"

// ModeChoice is a tri-state billing mode setting: either an explicit
// mode or "inherit from the next tier". The zero value inherits.
type ModeChoice struct {
	mode     model.BillingMode
	explicit bool
}

// ExplicitMode returns a choice carrying an explicit billing mode.
func ExplicitMode(m model.BillingMode) ModeChoice {
	return ModeChoice{mode: m, explicit: true}
}

// InheritMode returns the deferring choice.
func InheritMode() ModeChoice { return ModeChoice{} }

// Get returns the mode and whether it was explicitly set.
func (c ModeChoice) Get() (model.BillingMode, bool) { return c.mode, c.explicit }

// ModelChoice is the equivalent tri-state for a pricing model id.
type ModelChoice struct {
	id       string
	explicit bool
}

// ExplicitModel returns a choice carrying an explicit model id.
func ExplicitModel(id string) ModelChoice {
	return ModelChoice{id: id, explicit: true}
}

// InheritModel returns the deferring choice.
func InheritModel() ModelChoice { return ModelChoice{} }

// Get returns the model id and whether it was explicitly set.
func (c ModelChoice) Get() (string, bool) { return c.id, c.explicit }

// AgentPricing is the per-agent pricing configuration. Detected values
// are a write-back cache populated by credential detection, distinct
// from the user's explicit choices.
type AgentPricing struct {
	BillingMode ModeChoice
	Model       ModelChoice

	DetectedBillingMode model.BillingMode // empty when never detected
	DetectedModel       string
}

// FolderPricing is the optional project-folder override, consulted only
// when the agent-level billing mode inherits.
type FolderPricing struct {
	BillingMode ModeChoice
}

// agentPricingRecord is the persisted TOML shape of AgentPricing.
type agentPricingRecord struct {
	BillingMode         string `toml:"billing_mode"`
	PricingModel        string `toml:"pricing_model"`
	DetectedBillingMode string `toml:"detected_billing_mode,omitempty"`
	DetectedModel       string `toml:"detected_model,omitempty"`
}

type folderPricingRecord struct {
	BillingMode string `toml:"billing_mode,omitempty"`
}

func agentKey(agentID string) string   { return "agent." + agentID + ".pricing" }
func folderKey(folderID string) string { return "folder." + folderID + ".pricing" }

func modeFromRecord(s string) ModeChoice {
	if s == "" || s == autoSentinel {
		return InheritMode()
	}
	return ExplicitMode(model.BillingMode(s))
}

func modeToRecord(c ModeChoice) string {
	if m, ok := c.Get(); ok {
		return string(m)
	}
	return autoSentinel
}

func modelFromRecord(s string) ModelChoice {
	if s == "" || s == autoSentinel {
		return InheritModel()
	}
	return ExplicitModel(s)
}

func modelToRecord(c ModelChoice) string {
	if id, ok := c.Get(); ok {
		return id
	}
	return autoSentinel
}

// PricingStore reads and writes agent and folder pricing configs through
// a key-value Store, converting the persisted "auto" sentinel at this
// boundary.
type PricingStore struct {
	KV Store
}

// AgentPricing returns the persisted config for an agent. A missing key
// yields the zero (fully inheriting) config and no error.
func (p *PricingStore) AgentPricing(agentID string) (AgentPricing, error) {
	var rec agentPricingRecord
	ok, err := p.KV.Get(agentKey(agentID), &rec)
	if err != nil {
		return AgentPricing{}, fmt.Errorf("agent pricing %q: %w", agentID, err)
	}
	if !ok {
		return AgentPricing{}, nil
	}
	return AgentPricing{
		BillingMode:         modeFromRecord(rec.BillingMode),
		Model:               modelFromRecord(rec.PricingModel),
		DetectedBillingMode: model.BillingMode(rec.DetectedBillingMode),
		DetectedModel:       rec.DetectedModel,
	}, nil
}

// SetAgentPricing persists the config for an agent.
func (p *PricingStore) SetAgentPricing(agentID string, cfg AgentPricing) error {
	rec := agentPricingRecord{
		BillingMode:         modeToRecord(cfg.BillingMode),
		PricingModel:        modelToRecord(cfg.Model),
		DetectedBillingMode: string(cfg.DetectedBillingMode),
		DetectedModel:       cfg.DetectedModel,
	}
	if err := p.KV.Set(agentKey(agentID), rec); err != nil {
		return fmt.Errorf("saving agent pricing %q: %w", agentID, err)
	}
	return nil
}

// CacheDetection writes detection results into the agent config without
// disturbing the user's explicit choices.
func (p *PricingStore) CacheDetection(agentID string, mode model.BillingMode, modelID string) error {
	cfg, err := p.AgentPricing(agentID)
	if err != nil {
		// Corrupted existing record: overwrite with a clean one carrying
		// only the detection cache.
		cfg = AgentPricing{}
	}
	if mode != "" {
		cfg.DetectedBillingMode = mode
	}
	if modelID != "" {
		cfg.DetectedModel = modelID
	}
	return p.SetAgentPricing(agentID, cfg)
}

// FolderPricing returns the persisted override for a project folder.
func (p *PricingStore) FolderPricing(folderID string) (FolderPricing, error) {
	var rec folderPricingRecord
	ok, err := p.KV.Get(folderKey(folderID), &rec)
	if err != nil {
		return FolderPricing{}, fmt.Errorf("folder pricing %q: %w", folderID, err)
	}
	if !ok {
		return FolderPricing{}, nil
	}
	return FolderPricing{BillingMode: modeFromRecord(rec.BillingMode)}, nil
}

// SetFolderPricing persists the override for a project folder.
func (p *PricingStore) SetFolderPricing(folderID string, cfg FolderPricing) error {
	rec := folderPricingRecord{BillingMode: modeToRecord(cfg.BillingMode)}
	if err := p.KV.Set(folderKey(folderID), rec); err != nil {
		return fmt.Errorf("saving folder pricing %q: %w", folderID, err)
	}
	return nil
}
