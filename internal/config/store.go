package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
)

// Store is the key-value configuration collaborator. Implementations may
// return an error on corrupted persisted state; callers are expected to
// degrade to defaults rather than propagate.
type Store interface {
	// Get decodes the value stored under key into out. The boolean is
	// false when the key is absent, in which case out is left untouched.
	Get(key string, out any) (bool, error)
	// Set persists the value under key, replacing any previous value.
	Set(key string, v any) error
}

// FileStore persists keys as top-level tables in a single TOML file.
type FileStore struct {
	path string

	mu sync.Mutex
}

// NewFileStore returns a store backed by the TOML file at path.
// The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]toml.Primitive, *toml.MetaData, error) {
	raw := make(map[string]toml.Primitive)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil, nil
		}
		return nil, nil, fmt.Errorf("reading store: %w", err)
	}
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing store: %w", err)
	}
	return raw, &md, nil
}

// Get implements Store.
func (s *FileStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, md, err := s.load()
	if err != nil {
		return false, err
	}
	prim, ok := raw[key]
	if !ok || md == nil {
		return false, nil
	}
	if err := md.PrimitiveDecode(prim, out); err != nil {
		return false, fmt.Errorf("decoding key %q: %w", key, err)
	}
	return true, nil
}

// Set implements Store. The whole file is rewritten; keys are emitted in
// sorted order so diffs stay stable.
func (s *FileStore) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, md, err := s.load()
	if err != nil {
		return err
	}

	values := make(map[string]any, len(raw)+1)
	for k, prim := range raw {
		if k == key {
			continue
		}
		var decoded map[string]any
		if err := md.PrimitiveDecode(prim, &decoded); err != nil {
			// Preserve-what-we-can: an undecodable sibling key is dropped
			// rather than blocking the write.
			continue
		}
		values[k] = decoded
	}
	values[key] = v

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating store file: %w", err)
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	enc := toml.NewEncoder(f)
	for _, k := range keys {
		if err := enc.Encode(map[string]any{k: values[k]}); err != nil {
			return fmt.Errorf("encoding key %q: %w", k, err)
		}
	}
	return nil
}

// MemStore is an in-memory Store for tests and for callers that have no
// persistence requirement. A non-nil Err is returned from every call to
// simulate a corrupted backing file.
type MemStore struct {
	Err error

	mu     sync.Mutex
	values map[string]any
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]any)}
}

// Get implements Store via a TOML round-trip so MemStore decodes exactly
// like FileStore does.
func (s *MemStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	v, ok := s.values[key]
	if !ok {
		return false, nil
	}
	var buf []byte
	var err error
	if buf, err = encodeTOML(v); err != nil {
		return false, err
	}
	if err := toml.Unmarshal(buf, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *MemStore) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = v
	return nil
}

func encodeTOML(v any) ([]byte, error) {
	return toml.Marshal(v)
}
