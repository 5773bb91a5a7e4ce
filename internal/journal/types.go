package journal

// Entry represents a single structured line in an agent journal file.
// Only the fields the accounting pipeline reads are decoded.
type Entry struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	UUID      string      `json:"uuid,omitempty"`
	Cwd       string      `json:"cwd,omitempty"`
	Version   string      `json:"version,omitempty"`
	Message   *RawMessage `json:"message,omitempty"`

	// Provider-reported cost, present in older journal formats.
	CostUSD float64 `json:"costUSD,omitempty"`

	// For system entries with subtype "turn_duration".
	DurationMs int64 `json:"durationMs,omitempty"`
}

// RawMessage is the assistant message envelope.
type RawMessage struct {
	ID    string    `json:"id"`
	Role  string    `json:"role"`
	Model string    `json:"model"`
	Usage *RawUsage `json:"usage,omitempty"`
}

// RawUsage holds token counts as reported by the provider API.
type RawUsage struct {
	InputTokens              int64          `json:"input_tokens"`
	OutputTokens             int64          `json:"output_tokens"`
	CacheCreationInputTokens int64          `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64          `json:"cache_read_input_tokens"`
	CacheCreation            *CacheCreation `json:"cache_creation,omitempty"`
	ServiceTier              string         `json:"service_tier"`
}

// CacheCreation breaks down cache write tokens by TTL bucket.
type CacheCreation struct {
	Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
}

// CacheWriteTokens returns the total cache write tokens, preferring the
// TTL breakdown when present.
func (u *RawUsage) CacheWriteTokens() int64 {
	if u.CacheCreation != nil {
		return u.CacheCreation.Ephemeral5mInputTokens + u.CacheCreation.Ephemeral1hInputTokens
	}
	return u.CacheCreationInputTokens
}

// File describes a journal file found during discovery.
type File struct {
	Path          string
	Project       string // decoded display name
	ProjectDir    string // raw directory name
	SessionID     string // extracted from filename
	SizeBytes     int64
	IsSubagent    bool
	ParentSession string // for subagents: parent session UUID
}
