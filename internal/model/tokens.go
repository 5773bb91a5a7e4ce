// Package model defines domain types shared by the usage and cost pipeline.
package model

// TokenCounts holds the four token categories reported for a single
// query/response cycle. All fields default to zero; negative counts never
// occur in journal data and are treated as zero by callers.
type TokenCounts struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// IsZero reports whether every category is zero.
func (t TokenCounts) IsZero() bool {
	return t.InputTokens == 0 && t.OutputTokens == 0 &&
		t.CacheReadTokens == 0 && t.CacheCreationTokens == 0
}

// Total returns the sum of all four categories.
func (t TokenCounts) Total() int64 {
	return t.InputTokens + t.OutputTokens + t.CacheReadTokens + t.CacheCreationTokens
}

// Add accumulates other into t and returns the result.
func (t TokenCounts) Add(other TokenCounts) TokenCounts {
	return TokenCounts{
		InputTokens:         t.InputTokens + other.InputTokens,
		OutputTokens:        t.OutputTokens + other.OutputTokens,
		CacheReadTokens:     t.CacheReadTokens + other.CacheReadTokens,
		CacheCreationTokens: t.CacheCreationTokens + other.CacheCreationTokens,
	}
}

// BillingMode selects the cost semantics applied to a set of token counts.
type BillingMode string

const (
	// BillingAPI is metered per-token API billing.
	BillingAPI BillingMode = "api"
	// BillingMax is subscription billing where cache tokens are free.
	BillingMax BillingMode = "max"
	// BillingFree marks agent types this system has no pricing table for;
	// the provider-reported cost is mirrored instead of recomputed.
	BillingFree BillingMode = "free"
)

// ConfigSource tags where a resolved billing mode or model came from,
// for UI transparency and audit attribution.
type ConfigSource string

const (
	SourceAgent    ConfigSource = "agent"
	SourceFolder   ConfigSource = "folder"
	SourceDetected ConfigSource = "detected"
	SourceDefault  ConfigSource = "default"
)
