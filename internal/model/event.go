package model

import "time"

// AgentType identifies the CLI agent family that produced a query.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
)

// IsPricingAware reports whether the agent family has entries in the
// pricing registry. Only pricing-aware agents get an independently
// recomputed Maestro cost.
func (a AgentType) IsPricingAware() bool {
	return a == AgentClaude
}

// QueryEvent is one row per completed agent query/response cycle.
// Rows are append-only; only historical reconstruction rewrites them,
// keyed by (SessionID, UUID), never by row id.
type QueryEvent struct {
	ID        string
	SessionID string
	AgentID   string
	AgentType AgentType
	Source    string // "user" or "auto"
	StartTime time.Time
	Duration  time.Duration

	ProjectPath string
	TabID       string
	IsRemote    bool

	UUID      string // journal line uuid; natural key component
	MessageID string // provider message id

	Tokens          TokenCounts
	TokensPerSecond float64 // zero means invalid; excluded from averages

	// Dual-source cost figures.
	AnthropicCostUSD   float64 // provider-reported, 0 when never reported
	AnthropicModel     string
	MaestroCostUSD     float64
	MaestroBillingMode BillingMode
	MaestroModel       string
}

// NaturalKey returns the stable identity used for idempotent upsert.
// Falls back to the message id when the journal line carried no uuid.
func (e QueryEvent) NaturalKey() (sessionID, uuid string) {
	id := e.UUID
	if id == "" {
		id = e.MessageID
	}
	return e.SessionID, id
}

// ThroughputValid reports whether TokensPerSecond carries signal.
// Legacy rows and sub-millisecond durations store zero and must be
// excluded from averaging, not averaged in as zero.
func (e QueryEvent) ThroughputValid() bool {
	return e.TokensPerSecond > 0
}

// ComputeThroughput derives output tokens per second from a duration.
// Returns 0 (invalid) for non-positive durations.
func ComputeThroughput(outputTokens int64, duration time.Duration) float64 {
	if duration <= 0 || outputTokens <= 0 {
		return 0
	}
	return float64(outputTokens) / duration.Seconds()
}

// UsageEntry is a normalized usage record extracted from one journal line.
// Entries with both InputTokens and OutputTokens zero are filtered out at
// extraction; a zero-usage assistant turn carries no accounting signal.
type UsageEntry struct {
	SessionID   string
	Timestamp   int64 // epoch milliseconds
	UUID        string
	MessageID   string
	Model       string
	Tokens      TokenCounts
	CostUSD     float64 // provider-reported when present in the journal
	ProjectPath string
	DurationMs  int64
}

// Time returns the entry timestamp as a time.Time.
func (u UsageEntry) Time() time.Time {
	return time.UnixMilli(u.Timestamp).UTC()
}
