package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/maestro-sh/maestro/internal/model"
	"github.com/maestro-sh/maestro/internal/notify"
	"github.com/maestro-sh/maestro/internal/pricing"
)

// CompletedQuery is the notification a live agent session emits when a
// query/response cycle finishes.
type CompletedQuery struct {
	SessionID   string
	AgentID     string
	AgentType   model.AgentType
	FolderID    string // project folder the agent belongs to, if any
	Source      string // "user" or "auto"
	StartTime   time.Time
	Duration    time.Duration
	ProjectPath string
	TabID       string
	IsRemote    bool
	UUID        string
	MessageID   string
	Model       string // model reported by the agent
	Tokens      model.TokenCounts
	// ReportedCostUSD is the agent's own cost figure, 0 when the agent
	// never reports cost.
	ReportedCostUSD float64
}

// Recorder is the live-event write path: resolve pricing, compute both
// cost figures, insert, then notify listeners. Cost resolution strictly
// precedes the store write, and the changed notification strictly
// follows a successful write.
type Recorder struct {
	Store    *Store
	Resolver *pricing.Resolver
	Changed  *notify.Broadcaster
	Log      *slog.Logger
}

func (r *Recorder) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Record handles one completed query. Failures are logged and swallowed;
// a stats-write failure must never crash or block the agent session. No
// notification fires when the write fails or the store is not ready.
func (r *Recorder) Record(ctx context.Context, q CompletedQuery) {
	if r.Store == nil || !r.Store.IsReady() {
		r.log().Warn("stats store not ready, dropping query event",
			"session_id", q.SessionID)
		return
	}

	event := r.buildEvent(q)
	if _, err := r.Store.InsertQueryEvent(ctx, event); err != nil {
		// InsertQueryEvent already logged with context.
		return
	}
	if r.Changed != nil {
		r.Changed.Notify()
	}
}

func (r *Recorder) buildEvent(q CompletedQuery) model.QueryEvent {
	event := model.QueryEvent{
		SessionID:        q.SessionID,
		AgentID:          q.AgentID,
		AgentType:        q.AgentType,
		Source:           q.Source,
		StartTime:        q.StartTime,
		Duration:         q.Duration,
		ProjectPath:      q.ProjectPath,
		TabID:            q.TabID,
		IsRemote:         q.IsRemote,
		UUID:             q.UUID,
		MessageID:        q.MessageID,
		Tokens:           q.Tokens,
		TokensPerSecond:  model.ComputeThroughput(q.Tokens.OutputTokens, q.Duration),
		AnthropicCostUSD: q.ReportedCostUSD,
		AnthropicModel:   q.Model,
	}

	if !q.AgentType.IsPricingAware() {
		// No pricing table for this agent family: there is no meaningful
		// Maestro price, so mirror the provider-reported figure.
		event.MaestroBillingMode = model.BillingFree
		event.MaestroCostUSD = q.ReportedCostUSD
		event.MaestroModel = q.Model
		return event
	}

	resolved := r.Resolver.Resolve(q.AgentID, q.FolderID)
	priceModel := q.Model
	if priceModel == "" {
		priceModel = resolved.Model
	}
	event.MaestroBillingMode = resolved.BillingMode
	event.MaestroModel = priceModel
	event.MaestroCostUSD = pricing.CalculateCostForModel(q.Tokens, priceModel, resolved.BillingMode)
	return event
}
