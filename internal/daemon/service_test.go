package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/journal"
	"github.com/maestro-sh/maestro/internal/notify"
	"github.com/maestro-sh/maestro/internal/pricing"
	"github.com/maestro-sh/maestro/internal/reconstruct"
	"github.com/maestro-sh/maestro/internal/stats"
)

func newTestDaemon(t *testing.T, dataDir string) (*Service, *notify.Broadcaster) {
	t.Helper()
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	changed := notify.New()
	recon := &reconstruct.Service{
		Store: store,
		Resolver: &pricing.Resolver{
			Configs: &config.PricingStore{KV: &config.MemStore{}},
			Log:     log,
		},
		Parser: &journal.Parser{Log: log},
		Log:    log,
	}
	return New(Config{DataDir: dataDir, Interval: 5 * time.Second}, recon, store, changed, log), changed
}

func seedJournal(t *testing.T, dataDir string) {
	t.Helper()
	dir := filepath.Join(dataDir, "projects", "-home-dev-app")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	line := fmt.Sprintf(`{"type":"assistant","timestamp":%q,"uuid":"u1","message":{"id":"m1","model":"claude-opus-4-6","usage":{"input_tokens":100,"output_tokens":50}}}`, ts) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "sess-1.jsonl"), []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s, _ := newTestDaemon(t, t.TempDir())
	if s.cfg.Addr != "127.0.0.1:8787" {
		t.Errorf("Addr = %q", s.cfg.Addr)
	}

	// Sub-floor intervals fall back to the default rather than hot-looping.
	s2 := New(Config{Interval: time.Millisecond}, s.recon, s.store, s.changed, s.log)
	if s2.cfg.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s default", s2.cfg.Interval)
	}
}

func TestScanOnceUpdatesStatusAndNotifies(t *testing.T) {
	dataDir := t.TempDir()
	seedJournal(t, dataDir)
	s, changed := newTestDaemon(t, dataDir)

	ch, cancel := changed.Subscribe()
	defer cancel()

	s.scanOnce(context.Background())

	st := s.snapshotStatus(context.Background())
	if st.ScanCount != 1 {
		t.Errorf("ScanCount = %d, want 1", st.ScanCount)
	}
	if st.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", st.EventCount)
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q", st.LastError)
	}
	if st.LastScanAt.IsZero() {
		t.Error("LastScanAt not set")
	}
	select {
	case <-ch:
	default:
		t.Error("no change signal after inserting rows")
	}

	// A rescan with nothing new stays quiet.
	s.scanOnce(context.Background())
	select {
	case <-ch:
		t.Error("change signal fired for an unchanged scan")
	default:
	}
}

func TestHandleStatus(t *testing.T) {
	dataDir := t.TempDir()
	seedJournal(t, dataDir)
	s, _ := newTestDaemon(t, dataDir)
	s.scanOnce(context.Background())

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/v1/status", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.EventCount != 1 || st.ScanCount != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", st.DataDir, dataDir)
	}
}

func TestHandleDaily(t *testing.T) {
	dataDir := t.TempDir()
	s, _ := newTestDaemon(t, dataDir)

	rec := httptest.NewRecorder()
	s.handleDaily(rec, httptest.NewRequest("GET", "/v1/stats/daily", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var rows []stats.AggRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decoding rows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want none for an empty store", len(rows))
	}
}

func TestHandleEvents(t *testing.T) {
	dataDir := t.TempDir()
	seedJournal(t, dataDir)
	s, _ := newTestDaemon(t, dataDir)
	s.scanOnce(context.Background())

	rec := httptest.NewRecorder()
	s.handleEvents(rec, httptest.NewRequest("GET", "/v1/events?limit=10", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []eventJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("events = %d, want 1", len(out))
	}
	if out[0].InputTokens != 100 || out[0].OutputTokens != 50 {
		t.Errorf("event = %+v", out[0])
	}
	if out[0].Model != "claude-opus-4-6" {
		t.Errorf("model = %q", out[0].Model)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestDaemon(t, t.TempDir())
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || rec.Body.String() != "ok\n" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}
