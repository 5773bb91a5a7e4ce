package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	return NewFileStore(path), path
}

type sample struct {
	Name  string `toml:"name"`
	Count int    `toml:"count"`
}

func TestFileStore_RoundTrip(t *testing.T) {
	s, _ := tempStore(t)

	if err := s.Set("agent.claude.pricing", sample{Name: "max", Count: 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got sample
	ok, err := s.Get("agent.claude.pricing", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get reported key absent after Set")
	}
	if got.Name != "max" || got.Count != 3 {
		t.Errorf("got %+v, want {max 3}", got)
	}
}

func TestFileStore_MissingKey(t *testing.T) {
	s, _ := tempStore(t)

	var got sample
	ok, err := s.Get("never.written", &got)
	if err != nil {
		t.Fatalf("Get on empty store: %v", err)
	}
	if ok {
		t.Error("Get reported a missing key as present")
	}
}

func TestFileStore_SetPreservesSiblings(t *testing.T) {
	s, _ := tempStore(t)

	if err := s.Set("first", sample{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("second", sample{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("first", sample{Name: "c"}); err != nil {
		t.Fatal(err)
	}

	var first, second sample
	if ok, _ := s.Get("first", &first); !ok || first.Name != "c" {
		t.Errorf("first = %+v (ok=%v), want overwritten value c", first, ok)
	}
	if ok, _ := s.Get("second", &second); !ok || second.Name != "b" {
		t.Errorf("second = %+v (ok=%v), want preserved value b", second, ok)
	}
}

func TestFileStore_SortedOutput(t *testing.T) {
	s, path := tempStore(t)

	for _, k := range []string{"zebra", "alpha", "middle"} {
		if err := s.Set(k, sample{Name: k}); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Index(text, "alpha") > strings.Index(text, "middle") ||
		strings.Index(text, "middle") > strings.Index(text, "zebra") {
		t.Errorf("keys not emitted in sorted order:\n%s", text)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	s, path := tempStore(t)
	if err := os.WriteFile(path, []byte("not = valid = toml ["), 0o600); err != nil {
		t.Fatal(err)
	}

	var got sample
	if _, err := s.Get("anything", &got); err == nil {
		t.Error("expected error reading corrupt store")
	}
}

func TestMemStore_RoundTrip(t *testing.T) {
	s := NewMemStore()
	if err := s.Set("k", sample{Name: "x", Count: 1}); err != nil {
		t.Fatal(err)
	}

	var got sample
	ok, err := s.Get("k", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Name != "x" {
		t.Errorf("got %+v", got)
	}
}
