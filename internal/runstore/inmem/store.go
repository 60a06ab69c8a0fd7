// Package inmem provides in-memory run and audit storage, used in tests and
// for single-process deployments that do not need durability.
package inmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/runweave/runweave/internal/run"
)

// Store keeps run snapshots in memory. Snapshots are deep-copied on both
// write and read so callers can never mutate stored state.
type Store struct {
	mu   sync.RWMutex
	runs map[string]run.State
}

var _ run.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{runs: make(map[string]run.State)}
}

// Save implements run.Store.
func (s *Store) Save(state run.State) error {
	if state.Ctx.RunID == "" {
		return fmt.Errorf("inmem: run id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.Ctx.RunID] = run.Clone(state)
	return nil
}

// Get implements run.Store.
func (s *Store) Get(runID string) (run.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.runs[runID]
	if !ok {
		return run.State{}, fmt.Errorf("inmem: %q: %w", runID, run.ErrNotFound)
	}
	return run.Clone(state), nil
}

// List implements run.Store, returning snapshots sorted by run id.
func (s *Store) List() ([]run.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]run.State, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, run.Clone(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctx.RunID < out[j].Ctx.RunID })
	return out, nil
}

// LogStore keeps audit entries in memory, in append order per run.
type LogStore struct {
	mu      sync.RWMutex
	entries map[string][]run.StepLogEntry
}

var _ run.StepLogStore = (*LogStore)(nil)

// NewLogStore returns an empty audit store.
func NewLogStore() *LogStore {
	return &LogStore{entries: make(map[string][]run.StepLogEntry)}
}

// Append implements run.StepLogStore.
func (s *LogStore) Append(entry run.StepLogEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("inmem: audit entry has no run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RunID] = append(s.entries[entry.RunID], entry)
	return nil
}

// ListByRun implements run.StepLogStore.
func (s *LogStore) ListByRun(runID string) ([]run.StepLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]run.StepLogEntry(nil), s.entries[runID]...), nil
}
