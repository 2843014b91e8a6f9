package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IntentStore keeps the intent reference of an open checkout session so a
// retry, a reload or a restart reuses it instead of starting a new purchase.
type IntentStore interface {
	Load(key string) (string, bool, error)
	Save(key, intentRef string) error
	Clear(key string) error
}

// SessionKey identifies a checkout session: one customer buying one file.
func SessionKey(email, fileID string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + strings.TrimSpace(fileID)
}

type MemoryStore struct {
	mu   sync.Mutex
	refs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{refs: map[string]string{}}
}

func (s *MemoryStore) Load(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[key]
	return ref, ok, nil
}

func (s *MemoryStore) Save(key, intentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[key] = intentRef
	return nil
}

func (s *MemoryStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, key)
	return nil
}

// FileStore persists sessions as a JSON object in a single file. Writes go
// through a temp file and a rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() (map[string]string, error) {
	refs := map[string]string{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return refs, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(b, &refs); err != nil {
		return nil, fmt.Errorf("intent store %s: %w", s.path, err)
	}
	return refs, nil
}

func (s *FileStore) write(refs map[string]string) error {
	b, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".intents-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Load(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.read()
	if err != nil {
		return "", false, err
	}
	ref, ok := refs[key]
	return ref, ok, nil
}

func (s *FileStore) Save(key, intentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.read()
	if err != nil {
		return err
	}
	refs[key] = intentRef
	return s.write(refs)
}

func (s *FileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := refs[key]; !ok {
		return nil
	}
	delete(refs, key)
	return s.write(refs)
}
