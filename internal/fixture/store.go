package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Store is an indexed, read-only collection of persisted fixtures.
// Fixtures are held in lexicographic name order, which the matrix
// resolver relies on for deterministic sharding.
type Store struct {
	root     string
	fixtures []*Fixture
	byName   map[string]*Fixture
}

// Open loads every fixture under the given root directory. A missing
// root yields an empty store; a directory entry without fixture.json is
// skipped; a malformed record is an error.
func Open(root string) (*Store, error) {
	store := &Store{root: root, byName: make(map[string]*Fixture)}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tests dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		recordPath := filepath.Join(root, entry.Name(), FileName)
		data, err := os.ReadFile(recordPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture %q: %w", entry.Name(), err)
		}

		var fx Fixture
		if err := json.Unmarshal(data, &fx); err != nil {
			return nil, fmt.Errorf("failed to parse fixture %q: %w", entry.Name(), err)
		}
		if fx.Name != entry.Name() {
			return nil, fmt.Errorf("fixture %q: record name %q does not match its directory", entry.Name(), fx.Name)
		}
		store.fixtures = append(store.fixtures, &fx)
		store.byName[fx.Name] = &fx
	}

	sort.Slice(store.fixtures, func(i, j int) bool {
		return store.fixtures[i].Name < store.fixtures[j].Name
	})
	return store, nil
}

// All returns every fixture in name order.
func (s *Store) All() []*Fixture {
	return s.fixtures
}

// Get looks up a fixture by name.
func (s *Store) Get(name string) (*Fixture, bool) {
	fx, ok := s.byName[name]
	return fx, ok
}

// Dir returns the directory holding a fixture's files.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// Select returns the fixtures whose names match the shell glob
// pattern, in name order. An empty pattern matches everything.
func (s *Store) Select(pattern string) ([]*Fixture, error) {
	if pattern == "" {
		return s.fixtures, nil
	}
	// Validate the pattern once up front so a bad glob fails loudly
	// instead of silently selecting nothing.
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", pattern, err)
	}

	var matched []*Fixture
	for _, fx := range s.fixtures {
		ok, _ := path.Match(pattern, fx.Name)
		if ok {
			matched = append(matched, fx)
		}
	}
	return matched, nil
}
