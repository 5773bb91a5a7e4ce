// Package audit reconciles provider-reported token and cost figures
// against independently recomputed Maestro figures, classifies the
// discrepancies, and keeps a persisted history of completed runs.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/internal/model"
	"github.com/maestro-sh/maestro/internal/pricing"
	"github.com/maestro-sh/maestro/internal/stats"
)

// Status classifies one audited entry.
type Status string

const (
	StatusMatch   Status = "match"
	StatusMinor   Status = "minor"
	StatusMajor   Status = "major"
	StatusMissing Status = "missing"
)

// Classification thresholds, inclusive: a discrepancy of exactly 1% is
// still a match and exactly 5% is still minor.
const (
	matchThresholdPercent = 1.0
	minorThresholdPercent = 5.0
)

// Epsilon floors for the discrepancy denominators, avoiding
// divide-by-zero on empty figures.
const (
	tokenEpsilon = 1.0
	costEpsilon  = 0.001
)

// TokenPair holds the two independently derived token totals.
type TokenPair struct {
	Anthropic int64 `json:"anthropic"`
	Maestro   int64 `json:"maestro"`
}

// CostPair holds the two independently derived cost figures.
type CostPair struct {
	AnthropicCost float64 `json:"anthropicCost"`
	MaestroCost   float64 `json:"maestroCost"`
}

// Entry is the reconciliation of a single query event.
type Entry struct {
	ID                 string            `json:"id"`
	Date               time.Time         `json:"date"`
	Model              string            `json:"model"`
	BillingMode        model.BillingMode `json:"billingMode"`
	Tokens             TokenPair         `json:"tokens"`
	Costs              CostPair          `json:"costs"`
	Status             Status            `json:"status"`
	DiscrepancyPercent float64           `json:"discrepancyPercent"`
}

// ModelSummary rolls entries up by model.
type ModelSummary struct {
	Model   string    `json:"model"`
	Entries int       `json:"entries"`
	Tokens  TokenPair `json:"tokens"`
	Costs   CostPair  `json:"costs"`
	Major   int       `json:"major"`
	Missing int       `json:"missing"`
}

// ModeSummary rolls entries up by billing mode. CacheSavings is
// reported for the max bucket: what its cache tokens would have cost
// under API billing, since they are free under Max.
type ModeSummary struct {
	BillingMode  model.BillingMode `json:"billingMode"`
	Entries      int               `json:"entries"`
	Costs        CostPair          `json:"costs"`
	CacheSavings float64           `json:"cacheSavings,omitempty"`
}

// Result is a completed audit run.
type Result struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	PeriodStart time.Time      `json:"periodStart"`
	PeriodEnd   time.Time      `json:"periodEnd"`
	Entries     []Entry        `json:"entries"`
	Models      []ModelSummary `json:"models"`
	Modes       []ModeSummary  `json:"modes"`
	Anomalies   []Entry        `json:"anomalies"`

	TotalAnthropicCost float64 `json:"totalAnthropicCost"`
	TotalMaestroCost   float64 `json:"totalMaestroCost"`
	Matches            int     `json:"matches"`
	Minors             int     `json:"minors"`
	Majors             int     `json:"majors"`
	Missings           int     `json:"missings"`
}

// Service runs audits against the stats store.
type Service struct {
	Store *stats.Store
	Log   *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Run audits every query event in [since, until) and appends the result
// to the persisted history.
func (s *Service) Run(ctx context.Context, since, until time.Time) (Result, error) {
	events, err := s.Store.EventsInPeriod(ctx, since, until)
	if err != nil {
		return Result{}, fmt.Errorf("loading events for audit: %w", err)
	}

	res := Result{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		PeriodStart: since,
		PeriodEnd:   until,
	}

	models := make(map[string]*ModelSummary)
	modes := make(map[model.BillingMode]*ModeSummary)

	for _, ev := range events {
		entry := auditEvent(ev)
		res.Entries = append(res.Entries, entry)

		res.TotalAnthropicCost += entry.Costs.AnthropicCost
		res.TotalMaestroCost += entry.Costs.MaestroCost

		switch entry.Status {
		case StatusMatch:
			res.Matches++
		case StatusMinor:
			res.Minors++
		case StatusMajor:
			res.Majors++
			res.Anomalies = append(res.Anomalies, entry)
		case StatusMissing:
			res.Missings++
			res.Anomalies = append(res.Anomalies, entry)
		}

		ms, ok := models[entry.Model]
		if !ok {
			ms = &ModelSummary{Model: entry.Model}
			models[entry.Model] = ms
		}
		ms.Entries++
		ms.Tokens.Anthropic += entry.Tokens.Anthropic
		ms.Tokens.Maestro += entry.Tokens.Maestro
		ms.Costs.AnthropicCost += entry.Costs.AnthropicCost
		ms.Costs.MaestroCost += entry.Costs.MaestroCost
		if entry.Status == StatusMajor {
			ms.Major++
		}
		if entry.Status == StatusMissing {
			ms.Missing++
		}

		bs, ok := modes[entry.BillingMode]
		if !ok {
			bs = &ModeSummary{BillingMode: entry.BillingMode}
			modes[entry.BillingMode] = bs
		}
		bs.Entries++
		bs.Costs.AnthropicCost += entry.Costs.AnthropicCost
		bs.Costs.MaestroCost += entry.Costs.MaestroCost
		if entry.BillingMode == model.BillingMax {
			bs.CacheSavings += pricing.CacheSavings(ev.Tokens, ev.MaestroModel)
		}
	}

	for _, ms := range models {
		res.Models = append(res.Models, *ms)
	}
	sort.Slice(res.Models, func(i, j int) bool {
		return res.Models[i].Costs.MaestroCost > res.Models[j].Costs.MaestroCost
	})
	for _, bs := range modes {
		res.Modes = append(res.Modes, *bs)
	}
	sort.Slice(res.Modes, func(i, j int) bool {
		return res.Modes[i].BillingMode < res.Modes[j].BillingMode
	})

	if err := s.persist(ctx, res); err != nil {
		return res, err
	}

	s.log().Info("audit completed",
		"entries", len(res.Entries), "majors", res.Majors, "missing", res.Missings)
	return res, nil
}

// auditEvent reconciles one stored event. The Maestro figure is
// recomputed under the billing mode and model persisted on the row, not
// the current live resolution: an audit reconstructs history as it was
// billed at the time.
func auditEvent(ev model.QueryEvent) Entry {
	entry := Entry{
		ID:          ev.ID,
		Date:        ev.StartTime,
		Model:       ev.MaestroModel,
		BillingMode: ev.MaestroBillingMode,
		Tokens: TokenPair{
			Anthropic: ev.Tokens.Total(),
			Maestro:   ev.Tokens.Total(),
		},
		Costs: CostPair{
			AnthropicCost: ev.AnthropicCostUSD,
		},
	}

	if ev.MaestroBillingMode == model.BillingFree {
		entry.Costs.MaestroCost = ev.MaestroCostUSD
	} else {
		entry.Costs.MaestroCost = pricing.CalculateCostForModel(
			ev.Tokens, ev.MaestroModel, ev.MaestroBillingMode)
	}

	if ev.AnthropicCostUSD == 0 && ev.AnthropicModel == "" {
		entry.Status = StatusMissing
		return entry
	}

	tokenDisc := discrepancyPercent(
		float64(entry.Tokens.Anthropic), float64(entry.Tokens.Maestro), tokenEpsilon)
	costDisc := discrepancyPercent(
		entry.Costs.AnthropicCost, entry.Costs.MaestroCost, costEpsilon)

	// Intentionally the max of the two, not a combined metric; audit
	// history comparability depends on a stable formula.
	entry.DiscrepancyPercent = math.Max(tokenDisc, costDisc)
	entry.Status = classify(entry.DiscrepancyPercent)
	return entry
}

func discrepancyPercent(a, b, epsilon float64) float64 {
	denom := math.Max(math.Max(a, b), epsilon)
	return math.Abs(a-b) / denom * 100
}

func classify(discrepancy float64) Status {
	switch {
	case discrepancy <= matchThresholdPercent:
		return StatusMatch
	case discrepancy <= minorThresholdPercent:
		return StatusMinor
	default:
		return StatusMajor
	}
}

func (s *Service) persist(ctx context.Context, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding audit result: %w", err)
	}
	rec := stats.AuditRunRecord{
		ID:          res.ID,
		CreatedAt:   res.CreatedAt,
		PeriodStart: res.PeriodStart,
		PeriodEnd:   res.PeriodEnd,
		ResultJSON:  raw,
	}
	if err := s.Store.SaveAuditRun(ctx, rec); err != nil {
		return fmt.Errorf("persisting audit run: %w", err)
	}
	return nil
}

// History returns the most recent audit results, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]Result, error) {
	recs, err := s.Store.AuditRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		var res Result
		if err := json.Unmarshal(rec.ResultJSON, &res); err != nil {
			s.log().Warn("skipping unreadable audit run", "id", rec.ID, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// Delete removes one audit run from the history.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.Store.DeleteAuditRun(ctx, id)
}
