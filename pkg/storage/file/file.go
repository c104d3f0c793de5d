// Package file implements the single-process storage backend (spec.md
// §4.3): one JSON document per section, holding every key in that section,
// rewritten wholesale on each mutation via a write-temp-then-rename
// sequence so a crash mid-write never corrupts the section file.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/pkg/storage"
)

// Store is a directory-rooted file-backed storage.Store. It is safe for
// concurrent use: a per-section mutex serializes read-modify-write cycles
// against that section's file, and the rename makes each rewrite atomic on
// disk.
type Store struct {
	root string

	mu       sync.Mutex // guards sections
	sections map[string]*sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// New returns a Store rooted at dir, creating it if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, internalerrors.Internal("create storage root", err)
	}
	return &Store{root: dir, sections: make(map[string]*sync.RWMutex)}, nil
}

func (s *Store) sectionLock(section string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sections[section]
	if !ok {
		lock = &sync.RWMutex{}
		s.sections[section] = lock
	}
	return lock
}

func (s *Store) sectionPath(section string) string {
	return filepath.Join(s.root, section+".json")
}

func (s *Store) Backend() string { return "file" }

// readSection loads the section's document map. A missing file is an empty
// section, not an error.
func (s *Store) readSection(section string) (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.sectionPath(section))
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, internalerrors.Transient("storage.readSection", 1, err)
	}
	docs := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, internalerrors.Internal("corrupt section file "+section, err)
	}
	return docs, nil
}

// writeSection atomically rewrites the section's document map.
func (s *Store) writeSection(section string, docs map[string]json.RawMessage) error {
	raw, err := json.Marshal(docs)
	if err != nil {
		return internalerrors.Internal("marshal section "+section, err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return internalerrors.Internal("create storage root", err)
	}
	tmp := filepath.Join(s.root, "."+section+"-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return internalerrors.Transient("storage.writeSection", 1, err)
	}
	if err := os.Rename(tmp, s.sectionPath(section)); err != nil {
		os.Remove(tmp)
		return internalerrors.Transient("storage.writeSection", 1, err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, section, key string) ([]byte, error) {
	lock := s.sectionLock(section)
	lock.RLock()
	defer lock.RUnlock()

	docs, err := s.readSection(section)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[key]
	if !ok {
		return nil, internalerrors.NotFound(section, key)
	}
	return doc, nil
}

func (s *Store) Put(_ context.Context, section, key string, doc []byte) error {
	lock := s.sectionLock(section)
	lock.Lock()
	defer lock.Unlock()

	docs, err := s.readSection(section)
	if err != nil {
		return err
	}
	docs[key] = json.RawMessage(doc)
	return s.writeSection(section, docs)
}

func (s *Store) Delete(_ context.Context, section, key string) error {
	lock := s.sectionLock(section)
	lock.Lock()
	defer lock.Unlock()

	docs, err := s.readSection(section)
	if err != nil {
		return err
	}
	if _, ok := docs[key]; !ok {
		return nil
	}
	delete(docs, key)
	return s.writeSection(section, docs)
}

func (s *Store) ListKeys(_ context.Context, section, prefix string) ([]string, error) {
	lock := s.sectionLock(section)
	lock.RLock()
	defer lock.RUnlock()

	docs, err := s.readSection(section)
	if err != nil {
		return nil, err
	}
	var keys []string
	for key := range docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Scan(_ context.Context, section, prefix string, fn func(key string, doc []byte) bool) error {
	lock := s.sectionLock(section)
	lock.RLock()
	defer lock.RUnlock()

	docs, err := s.readSection(section)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(docs))
	for key := range docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !fn(key, docs[key]) {
			break
		}
	}
	return nil
}

func (s *Store) SectionCounts(_ context.Context, sections []string) (map[string]int, error) {
	counts := make(map[string]int, len(sections))
	for _, section := range sections {
		docs, err := s.readSection(section)
		if err != nil {
			return nil, err
		}
		counts[section] = len(docs)
	}
	return counts, nil
}
