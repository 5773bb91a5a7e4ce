// Package daemon provides the long-running background service that
// keeps the stats store current with local journal activity and exposes
// it over a local HTTP API.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maestro-sh/maestro/internal/notify"
	"github.com/maestro-sh/maestro/internal/reconstruct"
	"github.com/maestro-sh/maestro/internal/stats"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Addr             string
	DataDir          string
	Interval         time.Duration
	IncludeSubagents bool
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastScanAt      time.Time `json:"last_scan_at"`
	ScanIntervalSec int       `json:"scan_interval_sec"`
	ScanCount       int64     `json:"scan_count"`
	DataDir         string    `json:"data_dir"`
	EventCount      int64     `json:"event_count"`
	LastScan        string    `json:"last_scan,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Polling         bool      `json:"polling"`
}

// Service runs incremental journal scans on a poll interval, jumps the
// schedule when the filesystem watcher sees journal writes, and serves
// status plus a change-notification stream.
type Service struct {
	cfg     Config
	recon   *reconstruct.Service
	store   *stats.Store
	changed *notify.Broadcaster
	log     *slog.Logger

	poller  *Poller
	kick    chan struct{}
	enabled func() bool

	mu         sync.RWMutex
	startedAt  time.Time
	lastScanAt time.Time
	scanCount  int64
	lastScan   string
	lastError  string
}

// New returns a daemon service. The changed broadcaster carries the
// "stats changed" signal to SSE subscribers.
func New(cfg Config, recon *reconstruct.Service, store *stats.Store, changed *notify.Broadcaster, log *slog.Logger) *Service {
	if cfg.Interval < 2*time.Second {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		recon:     recon,
		store:     store,
		changed:   changed,
		log:       log,
		kick:      make(chan struct{}, 1),
		startedAt: time.Now(),
	}
	s.enabled = func() bool { return true }
	s.poller = &Poller{
		Interval: cfg.Interval,
		Enabled:  func() bool { return s.enabled() },
		Tick:     s.scanOnce,
	}
	return s
}

// SetEnabled gates the polling loop. Disabling takes effect on the next
// tick evaluation; the watcher kick path honors the same predicate.
func (s *Service) SetEnabled(fn func() bool) {
	if fn != nil {
		s.enabled = fn
	}
}

// Run starts the HTTP endpoints, the filesystem watcher, and the scan
// poller, blocking until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/stats/daily", s.handleDaily)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	watchCh := s.startWatcher(ctx)

	// Seed an initial scan so status is useful immediately.
	s.scanOnce(ctx)
	s.poller.Start(ctx)
	defer s.poller.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-watchCh:
			if s.enabled() {
				s.scanOnce(ctx)
			}
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

// startWatcher watches the journal projects tree and coalesces write
// bursts into single kicks. Watcher failure degrades to interval-only
// scanning.
func (s *Service) startWatcher(ctx context.Context) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("journal watcher unavailable, falling back to interval scans", "error", err)
		return s.kick
	}

	projectsDir := filepath.Join(s.cfg.DataDir, "projects")
	if err := watcher.Add(projectsDir); err != nil {
		s.log.Warn("cannot watch journal dir", "dir", projectsDir, "error", err)
	}
	if dirs, err := os.ReadDir(projectsDir); err == nil {
		for _, d := range dirs {
			if d.IsDir() {
				_ = watcher.Add(filepath.Join(projectsDir, d.Name()))
			}
		}
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) {
					// New project directories need their own watch.
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = watcher.Add(ev.Name)
						continue
					}
				}
				if filepath.Ext(ev.Name) != ".jsonl" {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(2*time.Second, func() {
					select {
					case s.kick <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("journal watcher error", "error", err)
			}
		}
	}()

	return s.kick
}

// scanOnce runs one incremental local reconstruction. Upsert semantics
// make overlapping scans safe; unchanged rows are skipped.
func (s *Service) scanOnce(ctx context.Context) {
	res, err := s.recon.Start(ctx, reconstruct.Options{
		LocalDir:         s.cfg.DataDir,
		IncludeSubagents: s.cfg.IncludeSubagents,
	})

	s.mu.Lock()
	s.lastScanAt = time.Now()
	s.scanCount++
	if err != nil {
		s.lastError = err.Error()
		s.mu.Unlock()
		s.log.Error("journal scan failed", "error", err)
		return
	}
	s.lastError = ""
	s.lastScan = res.Describe()
	s.mu.Unlock()

	if res.QueriesInserted > 0 || res.QueriesUpdated > 0 {
		s.changed.Notify()
	}
}

func (s *Service) snapshotStatus(ctx context.Context) Status {
	s.mu.RLock()
	st := Status{
		StartedAt:       s.startedAt,
		LastScanAt:      s.lastScanAt,
		ScanIntervalSec: int(s.cfg.Interval.Seconds()),
		ScanCount:       s.scanCount,
		DataDir:         s.cfg.DataDir,
		LastScan:        s.lastScan,
		LastError:       s.lastError,
	}
	s.mu.RUnlock()

	st.Polling = s.poller.State() == PollPolling
	if n, err := s.store.EventCount(ctx); err == nil {
		st.EventCount = n
	}
	return st
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshotStatus(r.Context()))
}

func (s *Service) handleDaily(w http.ResponseWriter, r *http.Request) {
	until := time.Now()
	since := until.AddDate(0, 0, -30)
	rows, err := s.store.AggregateByDay(r.Context(), since, until)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

type eventJSON struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	AgentID         string  `json:"agent_id"`
	AgentType       string  `json:"agent_type"`
	StartTime       string  `json:"start_time"`
	DurationMs      int64   `json:"duration_ms"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CacheRead       int64   `json:"cache_read_tokens"`
	CacheCreation   int64   `json:"cache_creation_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
	AnthropicCost   float64 `json:"anthropic_cost_usd"`
	MaestroCost     float64 `json:"maestro_cost_usd"`
	BillingMode     string  `json:"billing_mode"`
	Model           string  `json:"model"`
}

// handleEvents returns the most recent query events, newest first.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	until := time.Now()
	events, err := s.store.EventsInPeriod(r.Context(), until.AddDate(0, 0, -30), until)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]eventJSON, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		e := events[i]
		out = append(out, eventJSON{
			ID:              e.ID,
			SessionID:       e.SessionID,
			AgentID:         e.AgentID,
			AgentType:       string(e.AgentType),
			StartTime:       e.StartTime.UTC().Format(time.RFC3339),
			DurationMs:      e.Duration.Milliseconds(),
			InputTokens:     e.Tokens.InputTokens,
			OutputTokens:    e.Tokens.OutputTokens,
			CacheRead:       e.Tokens.CacheReadTokens,
			CacheCreation:   e.Tokens.CacheCreationTokens,
			TokensPerSecond: e.TokensPerSecond,
			AnthropicCost:   e.AnthropicCostUSD,
			MaestroCost:     e.MaestroCostUSD,
			BillingMode:     string(e.MaestroBillingMode),
			Model:           e.MaestroModel,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleStream notifies SSE subscribers whenever the stats store
// changes. The payload is the current status snapshot.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.changed.Subscribe()
	defer cancel()

	writeSSE(w, "status", s.snapshotStatus(r.Context()))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			writeSSE(w, "stats_changed", s.snapshotStatus(r.Context()))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
