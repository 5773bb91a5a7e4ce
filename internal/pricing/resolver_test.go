package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/maestro-sh/maestro/internal/auth"
	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/model"
)

// fakeConfigs is an in-memory ConfigSource with injectable failures.
type fakeConfigs struct {
	agents   map[string]config.AgentPricing
	folders  map[string]config.FolderPricing
	agentErr error
	cached   []model.BillingMode
}

func (f *fakeConfigs) AgentPricing(agentID string) (config.AgentPricing, error) {
	if f.agentErr != nil {
		return config.AgentPricing{}, f.agentErr
	}
	return f.agents[agentID], nil
}

func (f *fakeConfigs) FolderPricing(folderID string) (config.FolderPricing, error) {
	return f.folders[folderID], nil
}

func (f *fakeConfigs) CacheDetection(agentID string, mode model.BillingMode, modelID string) error {
	f.cached = append(f.cached, mode)
	return nil
}

type fakeDetector struct {
	det   auth.Detection
	err   error
	calls int
}

func (f *fakeDetector) DetectLocalAuth(_ context.Context) (auth.Detection, error) {
	f.calls++
	return f.det, f.err
}

func TestResolve_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		agent      config.AgentPricing
		folder     config.FolderPricing
		folderID   string
		wantMode   model.BillingMode
		wantSource model.ConfigSource
	}{
		{
			name:       "agent explicit wins over everything",
			agent:      config.AgentPricing{BillingMode: config.ExplicitMode(model.BillingMax), DetectedBillingMode: model.BillingAPI},
			folder:     config.FolderPricing{BillingMode: config.ExplicitMode(model.BillingAPI)},
			folderID:   "folder-1",
			wantMode:   model.BillingMax,
			wantSource: model.SourceAgent,
		},
		{
			name:       "folder beats detection when agent inherits",
			agent:      config.AgentPricing{DetectedBillingMode: model.BillingAPI},
			folder:     config.FolderPricing{BillingMode: config.ExplicitMode(model.BillingMax)},
			folderID:   "folder-1",
			wantMode:   model.BillingMax,
			wantSource: model.SourceFolder,
		},
		{
			name:       "detection beats default",
			agent:      config.AgentPricing{DetectedBillingMode: model.BillingMax},
			wantMode:   model.BillingMax,
			wantSource: model.SourceDetected,
		},
		{
			name:       "default when nothing configured",
			wantMode:   model.BillingAPI,
			wantSource: model.SourceDefault,
		},
		{
			name:       "inheriting folder falls through to detection",
			agent:      config.AgentPricing{DetectedBillingMode: model.BillingMax},
			folder:     config.FolderPricing{},
			folderID:   "folder-1",
			wantMode:   model.BillingMax,
			wantSource: model.SourceDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolver{Configs: &fakeConfigs{
				agents:  map[string]config.AgentPricing{"claude": tt.agent},
				folders: map[string]config.FolderPricing{"folder-1": tt.folder},
			}}

			got := r.Resolve("claude", tt.folderID)
			if got.BillingMode != tt.wantMode {
				t.Errorf("BillingMode = %q, want %q", got.BillingMode, tt.wantMode)
			}
			if got.BillingModeSource != tt.wantSource {
				t.Errorf("BillingModeSource = %q, want %q", got.BillingModeSource, tt.wantSource)
			}
		})
	}
}

func TestResolve_ModelPrecedence(t *testing.T) {
	r := &Resolver{Configs: &fakeConfigs{
		agents: map[string]config.AgentPricing{
			"explicit": {Model: config.ExplicitModel("claude-opus-4-6"), DetectedModel: "claude-haiku-4-5"},
			"detected": {DetectedModel: "claude-haiku-4-5"},
			"bare":     {},
		},
	}}

	if got := r.Resolve("explicit", ""); got.Model != "claude-opus-4-6" || got.ModelSource != model.SourceAgent {
		t.Errorf("explicit: got %q from %q", got.Model, got.ModelSource)
	}
	if got := r.Resolve("detected", ""); got.Model != "claude-haiku-4-5" || got.ModelSource != model.SourceDetected {
		t.Errorf("detected: got %q from %q", got.Model, got.ModelSource)
	}
	if got := r.Resolve("bare", ""); got.Model != DefaultModel || got.ModelSource != model.SourceDefault {
		t.Errorf("bare: got %q from %q", got.Model, got.ModelSource)
	}
}

func TestResolve_DefaultModelOverride(t *testing.T) {
	r := &Resolver{
		Configs:      &fakeConfigs{},
		DefaultModel: "claude-haiku-4-5",
	}
	if got := r.Resolve("claude", ""); got.Model != "claude-haiku-4-5" {
		t.Errorf("Model = %q, want configured default", got.Model)
	}
}

func TestResolve_CorruptConfigDegradesToDefaults(t *testing.T) {
	r := &Resolver{Configs: &fakeConfigs{agentErr: errors.New("toml: parse error")}}

	got := r.Resolve("claude", "")
	if got.BillingMode != model.BillingAPI || got.BillingModeSource != model.SourceDefault {
		t.Errorf("corrupt config resolved to %q from %q, want api default", got.BillingMode, got.BillingModeSource)
	}
	if got.Model != DefaultModel {
		t.Errorf("corrupt config model = %q, want %q", got.Model, DefaultModel)
	}
}

func TestResolveBillingModeAsync_DetectsAndCaches(t *testing.T) {
	configs := &fakeConfigs{}
	det := &fakeDetector{det: auth.Detection{BillingMode: model.BillingMax, Source: "oauth"}}
	r := &Resolver{Configs: configs, Detector: det}

	mode, err := r.ResolveBillingModeAsync(context.Background(), "claude", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != model.BillingMax {
		t.Errorf("mode = %q, want max", mode)
	}
	if len(configs.cached) != 1 || configs.cached[0] != model.BillingMax {
		t.Errorf("detection not cached: %v", configs.cached)
	}
}

func TestResolveBillingModeAsync_SkipsDetectionWhenConfigured(t *testing.T) {
	det := &fakeDetector{det: auth.Detection{BillingMode: model.BillingAPI}}
	r := &Resolver{
		Configs: &fakeConfigs{agents: map[string]config.AgentPricing{
			"claude": {BillingMode: config.ExplicitMode(model.BillingMax)},
		}},
		Detector: det,
	}

	mode, err := r.ResolveBillingModeAsync(context.Background(), "claude", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != model.BillingMax {
		t.Errorf("mode = %q, want explicit max", mode)
	}
	if det.calls != 0 {
		t.Errorf("detector called %d times, want 0", det.calls)
	}
}

func TestResolveBillingModeAsync_DetectorError(t *testing.T) {
	r := &Resolver{
		Configs:  &fakeConfigs{},
		Detector: &fakeDetector{err: errors.New("no credentials file")},
	}

	mode, err := r.ResolveBillingModeAsync(context.Background(), "claude", "")
	if err == nil {
		t.Fatal("expected error from failing detector")
	}
	if mode != model.BillingAPI {
		t.Errorf("mode = %q, want api default alongside error", mode)
	}
}
