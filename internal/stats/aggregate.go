package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AggRow is one bucket of an aggregation query. AvgTokensPerSecond
// averages only rows with a non-zero throughput; zero-valued rows
// (negligible output or pre-tracking legacy data) are excluded from the
// denominator rather than deflating the average.
type AggRow struct {
	Key                string // day, agent type, session id, or agent id
	Queries            int64
	TotalDuration      time.Duration
	OutputTokens       int64
	TotalTokens        int64
	AnthropicCostUSD   float64
	MaestroCostUSD     float64
	AvgTokensPerSecond float64
}

// aggSelect aggregates query_events grouped by the given key expression.
// AVG over a CASE without ELSE ignores the NULL rows, which is exactly
// the valid-sample semantics the throughput average requires.
const aggSelect = `SELECT %s AS agg_key,
	COUNT(*),
	COALESCE(SUM(duration_ms), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_tokens + output_tokens + cache_read_input_tokens + cache_creation_input_tokens), 0),
	COALESCE(SUM(anthropic_cost_usd), 0),
	COALESCE(SUM(maestro_cost_usd), 0),
	COALESCE(AVG(CASE WHEN tokens_per_second > 0 THEN tokens_per_second END), 0)
	FROM query_events
	WHERE start_time >= ? AND start_time < ?
	GROUP BY agg_key
	ORDER BY agg_key`

func (s *Store) aggregate(ctx context.Context, keyExpr string, since, until time.Time) ([]AggRow, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(aggSelect, keyExpr),
		since.UTC().Format(time.RFC3339Nano), until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("aggregating stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AggRow
	for rows.Next() {
		var (
			r          AggRow
			key        sql.NullString
			durationMs int64
		)
		if err := rows.Scan(&key, &r.Queries, &durationMs, &r.OutputTokens,
			&r.TotalTokens, &r.AnthropicCostUSD, &r.MaestroCostUSD,
			&r.AvgTokensPerSecond); err != nil {
			return nil, fmt.Errorf("scanning aggregate row: %w", err)
		}
		r.Key = key.String
		r.TotalDuration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// AggregateByDay groups query events by UTC calendar day.
func (s *Store) AggregateByDay(ctx context.Context, since, until time.Time) ([]AggRow, error) {
	return s.aggregate(ctx, "date(start_time)", since, until)
}

// AggregateByAgentType groups query events by agent family.
func (s *Store) AggregateByAgentType(ctx context.Context, since, until time.Time) ([]AggRow, error) {
	return s.aggregate(ctx, "agent_type", since, until)
}

// AggregateBySession groups query events by session.
func (s *Store) AggregateBySession(ctx context.Context, since, until time.Time) ([]AggRow, error) {
	return s.aggregate(ctx, "session_id", since, until)
}

// AggregateByAgentID groups query events by individual agent.
func (s *Store) AggregateByAgentID(ctx context.Context, since, until time.Time) ([]AggRow, error) {
	return s.aggregate(ctx, "agent_id", since, until)
}
