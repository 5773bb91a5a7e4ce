package audit

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/maestro-sh/maestro/internal/model"
	"github.com/maestro-sh/maestro/internal/stats"
)

func newTestService(t *testing.T) (*Service, *stats.Store) {
	t.Helper()
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Service{Store: store, Log: slog.New(slog.NewTextHandler(io.Discard, nil))}, store
}

func opusTokens() model.TokenCounts {
	return model.TokenCounts{
		InputTokens:         1_000_000,
		OutputTokens:        500_000,
		CacheReadTokens:     200_000,
		CacheCreationTokens: 100_000,
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClassifyThresholdsInclusive(t *testing.T) {
	tests := []struct {
		discrepancy float64
		want        Status
	}{
		{0, StatusMatch},
		{0.5, StatusMatch},
		{1.0, StatusMatch},
		{1.0001, StatusMinor},
		{3.0, StatusMinor},
		{5.0, StatusMinor},
		{5.0001, StatusMajor},
		{40, StatusMajor},
	}
	for _, tt := range tests {
		if got := classify(tt.discrepancy); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.discrepancy, got, tt.want)
		}
	}
}

func TestDiscrepancyPercent(t *testing.T) {
	tests := []struct {
		name    string
		a, b    float64
		epsilon float64
		want    float64
	}{
		{"identical", 18.225, 18.225, costEpsilon, 0},
		{"both zero", 0, 0, costEpsilon, 0},
		{"larger side is denominator", 30, 18.225, costEpsilon, (30 - 18.225) / 30 * 100},
		{"symmetric", 18.225, 30, costEpsilon, (30 - 18.225) / 30 * 100},
		{"epsilon floors tiny figures", 0, 0.0005, costEpsilon, 50},
		{"one token against none", 1, 0, tokenEpsilon, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := discrepancyPercent(tt.a, tt.b, tt.epsilon)
			if !approxEqual(got, tt.want) {
				t.Errorf("discrepancyPercent(%v, %v, %v) = %v, want %v",
					tt.a, tt.b, tt.epsilon, got, tt.want)
			}
		})
	}
}

func TestAuditEvent(t *testing.T) {
	base := model.QueryEvent{
		ID:                 "ev-1",
		StartTime:          time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
		Tokens:             opusTokens(),
		MaestroModel:       "claude-opus-4-6",
		MaestroBillingMode: model.BillingAPI,
		MaestroCostUSD:     18.225,
	}

	t.Run("provider agrees with recomputed cost", func(t *testing.T) {
		ev := base
		ev.AnthropicCostUSD = 18.225
		ev.AnthropicModel = "claude-opus-4-6"

		entry := auditEvent(ev)
		if entry.Status != StatusMatch {
			t.Fatalf("status = %q, want %q", entry.Status, StatusMatch)
		}
		if !approxEqual(entry.Costs.MaestroCost, 18.225) {
			t.Errorf("MaestroCost = %v, want 18.225", entry.Costs.MaestroCost)
		}
		if entry.Tokens.Anthropic != entry.Tokens.Maestro {
			t.Errorf("token pair diverged: %+v", entry.Tokens)
		}
	})

	t.Run("missing when provider never reported", func(t *testing.T) {
		ev := base
		ev.AnthropicCostUSD = 0
		ev.AnthropicModel = ""

		entry := auditEvent(ev)
		if entry.Status != StatusMissing {
			t.Fatalf("status = %q, want %q", entry.Status, StatusMissing)
		}
		if !approxEqual(entry.Costs.MaestroCost, 18.225) {
			t.Errorf("MaestroCost = %v, want recomputed 18.225", entry.Costs.MaestroCost)
		}
	})

	t.Run("zero provider cost with model is not missing", func(t *testing.T) {
		ev := base
		ev.AnthropicCostUSD = 0
		ev.AnthropicModel = "claude-opus-4-6"

		entry := auditEvent(ev)
		if entry.Status == StatusMissing {
			t.Fatal("reported model with zero cost classified as missing")
		}
		if entry.Status != StatusMajor {
			t.Errorf("status = %q, want %q", entry.Status, StatusMajor)
		}
	})

	t.Run("recomputes under the stored mode", func(t *testing.T) {
		ev := base
		ev.MaestroBillingMode = model.BillingMax
		ev.AnthropicCostUSD = 17.5
		ev.AnthropicModel = "claude-opus-4-6"

		entry := auditEvent(ev)
		if !approxEqual(entry.Costs.MaestroCost, 17.5) {
			t.Errorf("MaestroCost = %v, want 17.5 under max billing", entry.Costs.MaestroCost)
		}
		if entry.Status != StatusMatch {
			t.Errorf("status = %q, want %q", entry.Status, StatusMatch)
		}
	})

	t.Run("free billing mirrors the stored cost", func(t *testing.T) {
		ev := model.QueryEvent{
			ID:                 "ev-codex",
			Tokens:             model.TokenCounts{InputTokens: 1000, OutputTokens: 500},
			MaestroModel:       "gpt-5-codex",
			MaestroBillingMode: model.BillingFree,
			MaestroCostUSD:     0.42,
			AnthropicCostUSD:   0.42,
			AnthropicModel:     "gpt-5-codex",
		}

		entry := auditEvent(ev)
		if !approxEqual(entry.Costs.MaestroCost, 0.42) {
			t.Errorf("MaestroCost = %v, want mirrored 0.42", entry.Costs.MaestroCost)
		}
		if entry.Status != StatusMatch {
			t.Errorf("status = %q, want %q", entry.Status, StatusMatch)
		}
	})

	t.Run("large provider divergence is major", func(t *testing.T) {
		ev := base
		ev.AnthropicCostUSD = 30
		ev.AnthropicModel = "claude-opus-4-6"

		entry := auditEvent(ev)
		if entry.Status != StatusMajor {
			t.Fatalf("status = %q, want %q", entry.Status, StatusMajor)
		}
		want := (30 - 18.225) / 30 * 100
		if !approxEqual(entry.DiscrepancyPercent, want) {
			t.Errorf("DiscrepancyPercent = %v, want %v", entry.DiscrepancyPercent, want)
		}
	})
}

func TestServiceRun(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	events := []model.QueryEvent{
		{
			SessionID: "s1", UUID: "u1",
			AgentID: "agent-1", AgentType: model.AgentClaude, Source: "user",
			StartTime:    day.Add(1 * time.Hour),
			Tokens:       opusTokens(),
			MaestroModel: "claude-opus-4-6", MaestroBillingMode: model.BillingAPI,
			MaestroCostUSD:   18.225,
			AnthropicCostUSD: 18.225, AnthropicModel: "claude-opus-4-6",
		},
		{
			SessionID: "s2", UUID: "u2",
			AgentID: "agent-1", AgentType: model.AgentClaude, Source: "user",
			StartTime:    day.Add(2 * time.Hour),
			Tokens:       opusTokens(),
			MaestroModel: "claude-opus-4-6", MaestroBillingMode: model.BillingMax,
			MaestroCostUSD:   17.5,
			AnthropicCostUSD: 18.225, AnthropicModel: "claude-opus-4-6",
		},
		{
			SessionID: "s3", UUID: "u3",
			AgentID: "agent-1", AgentType: model.AgentClaude, Source: "user",
			StartTime:    day.Add(3 * time.Hour),
			Tokens:       model.TokenCounts{InputTokens: 1000, OutputTokens: 2000},
			MaestroModel: "claude-sonnet-4-6", MaestroBillingMode: model.BillingAPI,
			MaestroCostUSD: 0.033,
		},
		{
			SessionID: "s4", UUID: "u4",
			AgentID: "agent-2", AgentType: model.AgentClaude, Source: "user",
			StartTime:    day.Add(4 * time.Hour),
			Tokens:       opusTokens(),
			MaestroModel: "claude-opus-4-6", MaestroBillingMode: model.BillingAPI,
			MaestroCostUSD:   18.225,
			AnthropicCostUSD: 30, AnthropicModel: "claude-opus-4-6",
		},
	}
	for _, ev := range events {
		if _, err := store.InsertQueryEvent(ctx, ev); err != nil {
			t.Fatalf("inserting event %s/%s: %v", ev.SessionID, ev.UUID, err)
		}
	}

	res, err := svc.Run(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("running audit: %v", err)
	}

	if len(res.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(res.Entries))
	}
	if res.Matches != 1 || res.Minors != 1 || res.Majors != 1 || res.Missings != 1 {
		t.Errorf("verdicts = %d/%d/%d/%d, want 1/1/1/1",
			res.Matches, res.Minors, res.Majors, res.Missings)
	}
	if len(res.Anomalies) != 2 {
		t.Errorf("anomalies = %d, want major plus missing", len(res.Anomalies))
	}
	if !approxEqual(res.TotalAnthropicCost, 18.225+18.225+30) {
		t.Errorf("TotalAnthropicCost = %v", res.TotalAnthropicCost)
	}

	if len(res.Models) != 2 {
		t.Fatalf("model summaries = %d, want 2", len(res.Models))
	}
	// Sorted by Maestro cost, so opus leads.
	opus := res.Models[0]
	if opus.Model != "claude-opus-4-6" {
		t.Fatalf("top model = %q, want claude-opus-4-6", opus.Model)
	}
	if opus.Entries != 3 || opus.Major != 1 || opus.Missing != 0 {
		t.Errorf("opus rollup = %+v", opus)
	}
	if opus.Tokens.Maestro != 3*opusTokens().Total() {
		t.Errorf("opus Maestro tokens = %d, want %d", opus.Tokens.Maestro, 3*opusTokens().Total())
	}

	if len(res.Modes) != 2 {
		t.Fatalf("mode summaries = %d, want 2", len(res.Modes))
	}
	if res.Modes[0].BillingMode != model.BillingAPI || res.Modes[1].BillingMode != model.BillingMax {
		t.Fatalf("mode order = %v, %v", res.Modes[0].BillingMode, res.Modes[1].BillingMode)
	}
	if !approxEqual(res.Modes[1].CacheSavings, 0.725) {
		t.Errorf("max CacheSavings = %v, want 0.725", res.Modes[1].CacheSavings)
	}
	if res.Modes[0].CacheSavings != 0 {
		t.Errorf("api CacheSavings = %v, want 0", res.Modes[0].CacheSavings)
	}
}

func TestServiceHistoryAndDelete(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	ev := model.QueryEvent{
		SessionID: "s1", UUID: "u1",
		AgentID: "agent-1", AgentType: model.AgentClaude, Source: "user",
		StartTime:    day.Add(time.Hour),
		Tokens:       opusTokens(),
		MaestroModel: "claude-opus-4-6", MaestroBillingMode: model.BillingAPI,
		MaestroCostUSD:   18.225,
		AnthropicCostUSD: 18.225, AnthropicModel: "claude-opus-4-6",
	}
	if _, err := store.InsertQueryEvent(ctx, ev); err != nil {
		t.Fatalf("inserting event: %v", err)
	}

	first, err := svc.Run(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.Run(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("audit runs share an id")
	}

	history, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("loading history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	got := history[0]
	if got.Matches != 1 || len(got.Entries) != 1 {
		t.Errorf("round-tripped result = matches %d, entries %d", got.Matches, len(got.Entries))
	}
	if !got.PeriodStart.Equal(day) {
		t.Errorf("PeriodStart = %v, want %v", got.PeriodStart, day)
	}

	if err := svc.Delete(ctx, first.ID); err != nil {
		t.Fatalf("deleting run: %v", err)
	}
	history, err = svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("reloading history: %v", err)
	}
	if len(history) != 1 || history[0].ID != second.ID {
		t.Fatalf("history after delete = %d runs", len(history))
	}
}
