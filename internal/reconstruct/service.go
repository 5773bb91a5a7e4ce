// Package reconstruct backfills and repairs historical query events
// from journal files, locally and over SSH, with idempotent upsert
// semantics.
package reconstruct

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/maestro-sh/maestro/internal/journal"
	"github.com/maestro-sh/maestro/internal/model"
	"github.com/maestro-sh/maestro/internal/notify"
	"github.com/maestro-sh/maestro/internal/pricing"
	"github.com/maestro-sh/maestro/internal/remote"
	"github.com/maestro-sh/maestro/internal/stats"
)

// RemoteSource selects a remote host whose journals are included.
type RemoteSource struct {
	Host    string
	DataDir string // remote agent data directory, default ~/.claude
}

// Options selects the source set and behavior of a reconstruction run.
type Options struct {
	// LocalDir is the local agent data directory; empty disables the
	// local scan.
	LocalDir         string
	IncludeSubagents bool
	Remotes          []RemoteSource

	// Since/Until filter usage entries by timestamp; zero means
	// unbounded on that side.
	Since time.Time
	Until time.Time

	// DryRun computes the same counts without mutating the store.
	DryRun bool

	// AgentID attributes backfilled rows to an agent; defaults to
	// "claude" since journals come from the Claude agent family.
	AgentID string
}

// FileError records a per-file failure that did not abort the run.
type FileError struct {
	Path    string
	Message string
}

// Result summarizes a reconstruction run.
type Result struct {
	QueriesFound    int
	QueriesInserted int
	QueriesUpdated  int
	QueriesSkipped  int
	DateRangeStart  time.Time
	DateRangeEnd    time.Time
	Errors          []FileError
	Duration        time.Duration
}

// Service orchestrates journal discovery, parsing, remote aggregation,
// and store upserts.
type Service struct {
	Store    *stats.Store
	Resolver *pricing.Resolver
	Parser   *journal.Parser
	Runner   remote.Runner
	Updated  *notify.Broadcaster
	Log      *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Start runs a reconstruction. A successful non-dry run broadcasts one
// "updated" signal; dry runs never broadcast since they mutate nothing.
func (s *Service) Start(ctx context.Context, opts Options) (Result, error) {
	started := time.Now()

	if s.Store == nil || !s.Store.IsReady() {
		return Result{}, stats.ErrNotReady
	}
	if opts.AgentID == "" {
		opts.AgentID = "claude"
	}

	var res Result

	entries := s.collectLocal(ctx, opts, &res)
	localCount := len(entries)
	for _, source := range opts.Remotes {
		entries = append(entries, s.collectRemote(ctx, source, &res)...)
	}

	resolved := s.Resolver.Resolve(opts.AgentID, "")

	for i, entry := range entries {
		if !inRange(entry, opts) {
			continue
		}
		res.QueriesFound++
		extendDateRange(&res, entry.Time())

		event := s.buildEvent(entry, opts.AgentID, resolved)
		event.IsRemote = i >= localCount

		var (
			outcome stats.UpsertOutcome
			err     error
		)
		if opts.DryRun {
			outcome, err = s.Store.ClassifyUpsert(ctx, event)
		} else {
			outcome, err = s.Store.UpsertQueryEvent(ctx, event)
		}
		if err != nil {
			res.Errors = append(res.Errors, FileError{
				Path:    entry.SessionID,
				Message: err.Error(),
			})
			continue
		}

		switch outcome {
		case stats.UpsertInserted:
			res.QueriesInserted++
		case stats.UpsertUpdated:
			res.QueriesUpdated++
		case stats.UpsertUnchanged:
			res.QueriesSkipped++
		}
	}

	res.Duration = time.Since(started)

	if !opts.DryRun && s.Updated != nil {
		s.Updated.Notify()
	}
	return res, nil
}

// Preview runs a reconstruction with mutations forced off.
func (s *Service) Preview(ctx context.Context, opts Options) (Result, error) {
	opts.DryRun = true
	return s.Start(ctx, opts)
}

// collectLocal parses all local journal files with a bounded worker
// pool. Per-file failures are recorded and non-fatal.
func (s *Service) collectLocal(ctx context.Context, opts Options, res *Result) []model.UsageEntry {
	if opts.LocalDir == "" {
		return nil
	}

	files, err := journal.ScanDir(opts.LocalDir)
	if err != nil {
		res.Errors = append(res.Errors, FileError{Path: opts.LocalDir, Message: err.Error()})
		return nil
	}

	var toParse []journal.File
	for _, f := range files {
		if f.IsSubagent && !opts.IncludeSubagents {
			continue
		}
		toParse = append(toParse, f)
	}
	if len(toParse) == 0 {
		return nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(toParse) {
		numWorkers = len(toParse)
	}

	type fileResult struct {
		entries []model.UsageEntry
		err     error
		path    string
	}

	work := make(chan int, len(toParse))
	results := make([]fileResult, len(toParse))
	for i := range toParse {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					results[idx] = fileResult{err: ctx.Err(), path: toParse[idx].Path}
					continue
				}
				f := toParse[idx]
				pr, err := s.Parser.ParseFile(f.Path)
				if err != nil {
					results[idx] = fileResult{err: err, path: f.Path}
					continue
				}
				results[idx] = fileResult{
					entries: journal.ExtractUsageEntries(pr.Entries, f.SessionID),
					path:    f.Path,
				}
			}
		}()
	}
	wg.Wait()

	var entries []model.UsageEntry
	for _, fr := range results {
		if fr.err != nil {
			res.Errors = append(res.Errors, FileError{Path: fr.path, Message: fr.err.Error()})
			continue
		}
		entries = append(entries, fr.entries...)
	}
	return entries
}

// collectRemote gathers usage entries from one SSH host. Oversized
// files take the remote aggregation path; everything remote is marked
// as such on the resulting rows. Connectivity failures are recorded in
// errors and never abort the batch.
func (s *Service) collectRemote(ctx context.Context, source RemoteSource, res *Result) []model.UsageEntry {
	if s.Runner == nil {
		res.Errors = append(res.Errors, FileError{
			Path:    source.Host,
			Message: "no remote runner configured",
		})
		return nil
	}

	dataDir := source.DataDir
	if dataDir == "" {
		dataDir = ".claude"
	}

	client := &remote.Client{Runner: s.Runner, Host: source.Host, Log: s.Log}
	files, err := client.ListJournals(ctx, dataDir)
	if err != nil {
		res.Errors = append(res.Errors, FileError{Path: source.Host, Message: err.Error()})
		return nil
	}

	var entries []model.UsageEntry
	for _, f := range files {
		sessionID := strings.TrimSuffix(path.Base(f.Path), ".jsonl")

		if f.SizeBytes >= remote.AggregateThreshold {
			agg, err := client.AggregateJournal(ctx, f.Path)
			if err != nil {
				s.log().Warn("skipping oversized remote journal",
					"host", source.Host, "file", f.Path, "error", err)
				res.Errors = append(res.Errors, FileError{Path: f.Path, Message: err.Error()})
				continue
			}
			entries = append(entries, aggregateEntry(sessionID, f.Path, agg))
			continue
		}

		data, err := client.ReadJournal(ctx, f.Path)
		if err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.Path, Message: err.Error()})
			continue
		}
		pr, err := s.Parser.Parse(bytes.NewReader(data), f.Path)
		if err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.Path, Message: err.Error()})
			continue
		}
		entries = append(entries, journal.ExtractUsageEntries(pr.Entries, sessionID)...)
	}
	return entries
}

// aggregateEntry converts a remote file aggregate into one synthetic
// usage entry keyed by the file itself, so re-running reconstruction
// over the same file remains idempotent.
func aggregateEntry(sessionID, filePath string, agg remote.Aggregate) model.UsageEntry {
	return model.UsageEntry{
		SessionID: sessionID,
		UUID:      "file-aggregate:" + path.Base(filePath),
		Tokens:    agg.Tokens,
	}
}

func (s *Service) buildEvent(entry model.UsageEntry, agentID string, resolved pricing.Resolved) model.QueryEvent {
	priceModel := entry.Model
	if priceModel == "" {
		priceModel = resolved.Model
	}
	duration := time.Duration(entry.DurationMs) * time.Millisecond

	return model.QueryEvent{
		SessionID:          entry.SessionID,
		AgentID:            agentID,
		AgentType:          model.AgentClaude,
		Source:             "user",
		StartTime:          entry.Time(),
		Duration:           duration,
		ProjectPath:        entry.ProjectPath,
		UUID:               entry.UUID,
		MessageID:          entry.MessageID,
		Tokens:             entry.Tokens,
		TokensPerSecond:    model.ComputeThroughput(entry.Tokens.OutputTokens, duration),
		AnthropicCostUSD:   entry.CostUSD,
		AnthropicModel:     entry.Model,
		MaestroCostUSD:     pricing.CalculateCostForModel(entry.Tokens, priceModel, resolved.BillingMode),
		MaestroBillingMode: resolved.BillingMode,
		MaestroModel:       priceModel,
	}
}

func inRange(entry model.UsageEntry, opts Options) bool {
	if opts.Since.IsZero() && opts.Until.IsZero() {
		return true
	}
	t := entry.Time()
	if entry.Timestamp == 0 {
		// Aggregate entries carry no timestamp; a date filter cannot
		// apply to them.
		return opts.Since.IsZero() && opts.Until.IsZero()
	}
	if !opts.Since.IsZero() && t.Before(opts.Since) {
		return false
	}
	if !opts.Until.IsZero() && !t.Before(opts.Until) {
		return false
	}
	return true
}

func extendDateRange(res *Result, t time.Time) {
	if t.IsZero() || t.Unix() == 0 {
		return
	}
	if res.DateRangeStart.IsZero() || t.Before(res.DateRangeStart) {
		res.DateRangeStart = t
	}
	if res.DateRangeEnd.IsZero() || t.After(res.DateRangeEnd) {
		res.DateRangeEnd = t
	}
}

// Describe renders a short human summary of a result.
func (r Result) Describe() string {
	return fmt.Sprintf("%d found, %d inserted, %d updated, %d unchanged, %d errors in %s",
		r.QueriesFound, r.QueriesInserted, r.QueriesUpdated, r.QueriesSkipped,
		len(r.Errors), r.Duration.Round(time.Millisecond))
}
