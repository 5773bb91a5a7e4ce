// Package stats provides the durable append-only store of per-query
// usage and cost events, its retrying write path, and the aggregation
// queries built on top of it.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// ErrNotReady is returned when the store has not been opened yet.
var ErrNotReady = errors.New("stats: store not initialized")

// Retry policy for transient insert failures. Backoff doubles per
// attempt starting at retryBaseDelay.
const (
	insertAttempts = 3
	retryBaseDelay = 100 * time.Millisecond
)

// UpsertOutcome classifies what a natural-key upsert did.
type UpsertOutcome int

const (
	UpsertInserted UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

// Store is the SQLite-backed Stats Event Store.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	sleep func(context.Context, time.Duration)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSleep replaces the retry backoff delay, letting tests run without
// real timers.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(s *Store) { s.sleep = fn }
}

// Open opens or creates the stats database at dbPath and applies any
// pending schema migrations.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating stats dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening stats db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, log: slog.Default(), sleep: defaultSleep}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version == 0 {
		if _, err := db.Exec(baseSchema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		version = 1
	}

	for ; version < schemaVersion; version++ {
		for _, stmt := range migrations[version] {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrating schema v%d: %w", version+1, err)
			}
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

func defaultSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsReady reports whether the store can accept writes.
func (s *Store) IsReady() bool {
	return s != nil && s.db != nil
}

const insertColumns = `id, session_id, agent_id, agent_type, source, start_time,
	duration_ms, project_path, tab_id, is_remote, uuid, message_id,
	input_tokens, output_tokens, tokens_per_second,
	cache_read_input_tokens, cache_creation_input_tokens,
	anthropic_cost_usd, anthropic_model,
	maestro_cost_usd, maestro_billing_mode, maestro_pricing_model`

func insertArgs(e model.QueryEvent) []any {
	return []any{
		e.ID, e.SessionID, e.AgentID, string(e.AgentType), e.Source,
		e.StartTime.UTC().Format(time.RFC3339Nano),
		e.Duration.Milliseconds(), e.ProjectPath, e.TabID, boolInt(e.IsRemote),
		e.UUID, e.MessageID,
		e.Tokens.InputTokens, e.Tokens.OutputTokens, e.TokensPerSecond,
		e.Tokens.CacheReadTokens, e.Tokens.CacheCreationTokens,
		e.AnthropicCostUSD, e.AnthropicModel,
		e.MaestroCostUSD, string(e.MaestroBillingMode), e.MaestroModel,
	}
}

// InsertQueryEvent appends a query event, retrying transient failures
// with backoff. After exhausting retries the event is dropped and an
// error is logged with full context; a stats-write failure must never
// crash or block an agent session.
func (s *Store) InsertQueryEvent(ctx context.Context, e model.QueryEvent) (string, error) {
	if !s.IsReady() {
		return "", ErrNotReady
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := "INSERT INTO query_events (" + insertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lastErr error
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, insertArgs(e)...)
		if lastErr == nil {
			return e.ID, nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < insertAttempts {
			s.sleep(ctx, retryBaseDelay*time.Duration(1<<(attempt-1)))
		}
	}

	s.log.Error("dropping query event after failed inserts",
		"session_id", e.SessionID, "attempts", insertAttempts, "error", lastErr)
	return "", fmt.Errorf("inserting query event: %w", lastErr)
}

// UpsertQueryEvent writes an event keyed by its natural key (session id
// plus journal uuid, falling back to message id), so replaying the same
// journal files is idempotent. Rows whose accounting fields already
// match are reported unchanged; differing rows are updated in place.
func (s *Store) UpsertQueryEvent(ctx context.Context, e model.QueryEvent) (UpsertOutcome, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	sessionID, naturalID := e.NaturalKey()
	if naturalID == "" {
		// No stable identity; fall back to a plain insert.
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO query_events ("+insertColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			insertArgs(e)...)
		if err != nil {
			return 0, fmt.Errorf("inserting query event: %w", err)
		}
		return UpsertInserted, nil
	}
	e.UUID = naturalID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		existingID string
		existing   model.QueryEvent
		tps        float64
		modeStr    string
	)
	row := tx.QueryRowContext(ctx, `SELECT id, input_tokens, output_tokens,
		cache_read_input_tokens, cache_creation_input_tokens, tokens_per_second,
		anthropic_cost_usd, anthropic_model, maestro_cost_usd, maestro_billing_mode,
		maestro_pricing_model
		FROM query_events WHERE session_id = ? AND uuid = ?`, sessionID, naturalID)
	err = row.Scan(&existingID,
		&existing.Tokens.InputTokens, &existing.Tokens.OutputTokens,
		&existing.Tokens.CacheReadTokens, &existing.Tokens.CacheCreationTokens, &tps,
		&existing.AnthropicCostUSD, &existing.AnthropicModel,
		&existing.MaestroCostUSD, &modeStr, &existing.MaestroModel)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO query_events ("+insertColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			insertArgs(e)...)
		if err != nil {
			return 0, fmt.Errorf("inserting query event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("committing upsert: %w", err)
		}
		return UpsertInserted, nil

	case err != nil:
		return 0, fmt.Errorf("looking up query event: %w", err)
	}

	existing.TokensPerSecond = tps
	existing.MaestroBillingMode = model.BillingMode(modeStr)
	if accountingEqual(existing, e) {
		return UpsertUnchanged, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE query_events SET
		input_tokens = ?, output_tokens = ?, tokens_per_second = ?,
		cache_read_input_tokens = ?, cache_creation_input_tokens = ?,
		anthropic_cost_usd = ?, anthropic_model = ?,
		maestro_cost_usd = ?, maestro_billing_mode = ?, maestro_pricing_model = ?,
		start_time = ?, duration_ms = ?, project_path = ?
		WHERE id = ?`,
		e.Tokens.InputTokens, e.Tokens.OutputTokens, e.TokensPerSecond,
		e.Tokens.CacheReadTokens, e.Tokens.CacheCreationTokens,
		e.AnthropicCostUSD, e.AnthropicModel,
		e.MaestroCostUSD, string(e.MaestroBillingMode), e.MaestroModel,
		e.StartTime.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds(),
		e.ProjectPath, existingID)
	if err != nil {
		return 0, fmt.Errorf("updating query event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return UpsertUpdated, nil
}

// ClassifyUpsert reports what UpsertQueryEvent would do for the event
// without writing anything. Used by dry-run reconstruction previews.
func (s *Store) ClassifyUpsert(ctx context.Context, e model.QueryEvent) (UpsertOutcome, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	sessionID, naturalID := e.NaturalKey()
	if naturalID == "" {
		return UpsertInserted, nil
	}

	var (
		existing model.QueryEvent
		tps      float64
		modeStr  string
		id       string
	)
	row := s.db.QueryRowContext(ctx, `SELECT id, input_tokens, output_tokens,
		cache_read_input_tokens, cache_creation_input_tokens, tokens_per_second,
		anthropic_cost_usd, anthropic_model, maestro_cost_usd, maestro_billing_mode,
		maestro_pricing_model
		FROM query_events WHERE session_id = ? AND uuid = ?`, sessionID, naturalID)
	err := row.Scan(&id,
		&existing.Tokens.InputTokens, &existing.Tokens.OutputTokens,
		&existing.Tokens.CacheReadTokens, &existing.Tokens.CacheCreationTokens, &tps,
		&existing.AnthropicCostUSD, &existing.AnthropicModel,
		&existing.MaestroCostUSD, &modeStr, &existing.MaestroModel)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return UpsertInserted, nil
	case err != nil:
		return 0, fmt.Errorf("looking up query event: %w", err)
	}

	existing.TokensPerSecond = tps
	existing.MaestroBillingMode = model.BillingMode(modeStr)
	e.UUID = naturalID
	if accountingEqual(existing, e) {
		return UpsertUnchanged, nil
	}
	return UpsertUpdated, nil
}

// accountingEqual compares the fields reconstruction is allowed to
// rewrite. Identity and placement fields are ignored.
func accountingEqual(a, b model.QueryEvent) bool {
	return a.Tokens == b.Tokens &&
		a.TokensPerSecond == b.TokensPerSecond &&
		a.AnthropicCostUSD == b.AnthropicCostUSD &&
		a.AnthropicModel == b.AnthropicModel &&
		a.MaestroCostUSD == b.MaestroCostUSD &&
		a.MaestroBillingMode == b.MaestroBillingMode &&
		a.MaestroModel == b.MaestroModel
}

// EventsInPeriod returns all query events whose start time falls within
// [since, until), ordered by start time.
func (s *Store) EventsInPeriod(ctx context.Context, since, until time.Time) ([]model.QueryEvent, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+insertColumns+`
		FROM query_events
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time`,
		since.UTC().Format(time.RFC3339Nano), until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.QueryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (model.QueryEvent, error) {
	var (
		e          model.QueryEvent
		agentType  string
		startStr   string
		durationMs int64
		isRemote   int
		mode       string
		project    sql.NullString
		tabID      sql.NullString
		uuidCol    sql.NullString
		msgID      sql.NullString
	)
	err := rows.Scan(&e.ID, &e.SessionID, &e.AgentID, &agentType, &e.Source,
		&startStr, &durationMs, &project, &tabID, &isRemote, &uuidCol, &msgID,
		&e.Tokens.InputTokens, &e.Tokens.OutputTokens, &e.TokensPerSecond,
		&e.Tokens.CacheReadTokens, &e.Tokens.CacheCreationTokens,
		&e.AnthropicCostUSD, &e.AnthropicModel,
		&e.MaestroCostUSD, &mode, &e.MaestroModel)
	if err != nil {
		return e, fmt.Errorf("scanning query event: %w", err)
	}

	e.AgentType = model.AgentType(agentType)
	e.StartTime, _ = time.Parse(time.RFC3339Nano, startStr)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.IsRemote = isRemote != 0
	e.MaestroBillingMode = model.BillingMode(mode)
	e.ProjectPath = project.String
	e.TabID = tabID.String
	e.UUID = uuidCol.String
	e.MessageID = msgID.String
	return e, nil
}

// EventCount returns the number of stored query events.
func (s *Store) EventCount(ctx context.Context) (int64, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_events").Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
