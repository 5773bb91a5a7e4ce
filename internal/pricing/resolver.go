package pricing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maestro-sh/maestro/internal/auth"
	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/model"
)

// Resolved is the effective pricing configuration for an agent, with
// provenance tags for each resolved field. Computed on demand, never
// persisted.
type Resolved struct {
	BillingMode       model.BillingMode
	Model             string
	BillingModeSource model.ConfigSource
	ModelSource       model.ConfigSource
}

// ConfigSource reads the persisted agent and folder pricing configs.
// *config.PricingStore satisfies it.
type ConfigSource interface {
	AgentPricing(agentID string) (config.AgentPricing, error)
	FolderPricing(folderID string) (config.FolderPricing, error)
	CacheDetection(agentID string, mode model.BillingMode, modelID string) error
}

// Detector performs live credential-based billing mode detection.
type Detector interface {
	DetectLocalAuth(ctx context.Context) (auth.Detection, error)
}

// Resolver determines the effective billing mode and pricing model for
// an agent via the precedence chain: agent explicit, folder explicit,
// cached detection, application default.
type Resolver struct {
	Configs  ConfigSource
	Detector Detector
	Log      *slog.Logger

	// DefaultModel overrides the registry default when set.
	DefaultModel string
}

func (r *Resolver) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Resolver) defaultModel() string {
	if r.DefaultModel != "" {
		return r.DefaultModel
	}
	return DefaultModel
}

// Resolve computes the effective config synchronously, read-only and
// side-effect-free. A corrupted config read degrades to the hardcoded
// default rather than propagating; corruption must never block cost
// display.
func (r *Resolver) Resolve(agentID, folderID string) Resolved {
	agent, err := r.Configs.AgentPricing(agentID)
	if err != nil {
		r.log().Warn("agent pricing config unreadable, using defaults",
			"agent_id", agentID, "error", err)
		agent = config.AgentPricing{}
	}

	resolved := Resolved{
		BillingMode:       model.BillingAPI,
		BillingModeSource: model.SourceDefault,
		Model:             r.defaultModel(),
		ModelSource:       model.SourceDefault,
	}

	switch {
	case explicitMode(agent.BillingMode):
		resolved.BillingMode, _ = agent.BillingMode.Get()
		resolved.BillingModeSource = model.SourceAgent
	case folderID != "" && r.folderMode(folderID, &resolved):
		// set inside folderMode
	case agent.DetectedBillingMode != "":
		resolved.BillingMode = agent.DetectedBillingMode
		resolved.BillingModeSource = model.SourceDetected
	}

	if id, ok := agent.Model.Get(); ok {
		resolved.Model = id
		resolved.ModelSource = model.SourceAgent
	} else if agent.DetectedModel != "" {
		resolved.Model = agent.DetectedModel
		resolved.ModelSource = model.SourceDetected
	}

	return resolved
}

func explicitMode(c config.ModeChoice) bool {
	_, ok := c.Get()
	return ok
}

func (r *Resolver) folderMode(folderID string, resolved *Resolved) bool {
	folder, err := r.Configs.FolderPricing(folderID)
	if err != nil {
		r.log().Warn("folder pricing config unreadable, ignoring",
			"folder_id", folderID, "error", err)
		return false
	}
	mode, ok := folder.BillingMode.Get()
	if !ok {
		return false
	}
	resolved.BillingMode = mode
	resolved.BillingModeSource = model.SourceFolder
	return true
}

// ResolveBillingModeAsync resolves the billing mode with a live
// credential detection fallback. Detection runs only when no explicit or
// cached value exists at any tier; its result is written back into the
// agent config's detection cache. This path suspends on I/O and is meant
// for initial or periodic refresh, never the UI-facing hot path.
func (r *Resolver) ResolveBillingModeAsync(ctx context.Context, agentID, folderID string) (model.BillingMode, error) {
	resolved := r.Resolve(agentID, folderID)
	if resolved.BillingModeSource != model.SourceDefault {
		return resolved.BillingMode, nil
	}
	if r.Detector == nil {
		return resolved.BillingMode, nil
	}

	det, err := r.Detector.DetectLocalAuth(ctx)
	if err != nil {
		return resolved.BillingMode, fmt.Errorf("detecting local auth: %w", err)
	}
	if det.BillingMode == "" {
		return resolved.BillingMode, nil
	}

	if err := r.Configs.CacheDetection(agentID, det.BillingMode, ""); err != nil {
		r.log().Warn("caching detected billing mode failed",
			"agent_id", agentID, "error", err)
	}
	return det.BillingMode, nil
}
