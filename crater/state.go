package crater

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// DefaultRunHistory is the number of runs a RunStore keeps
const DefaultRunHistory = 20

// RunSnapshot is the persisted form of a run: its summary and catalogue
type RunSnapshot struct {
	Summary RunSummary `json:"summary"`
	Craters []Crater   `json:"craters"`
}

// RunStore tracks recent run results for the HTTP endpoints
type RunStore struct {
	mu        sync.RWMutex
	runs      map[string]*RunResult
	order     []string // run IDs, oldest first
	latest    *RunResult
	snapshot  *RunSnapshot // loaded from cache until the first run
	limit     int
	cachePath string // empty disables persistence
}

// NewRunStore creates an in-memory run store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*RunResult), limit: DefaultRunHistory}
}

// NewRunStoreWithCache creates a run store that persists the latest run to
// cachePath. An existing cache is loaded so the last catalogue is served
// after a restart.
func NewRunStoreWithCache(cachePath string) *RunStore {
	st := NewRunStore()
	st.cachePath = cachePath
	if cachePath != "" {
		if snap, err := LoadRunSnapshot(cachePath); err != nil {
			log.Printf("Warning: ignoring run cache %s: %v", cachePath, err)
		} else {
			st.snapshot = snap
		}
	}
	return st
}

// Update records a finished run and makes it the latest
func (st *RunStore) Update(res *RunResult) {
	st.mu.Lock()
	if _, ok := st.runs[res.RunID]; !ok {
		st.order = append(st.order, res.RunID)
	}
	st.runs[res.RunID] = res
	for len(st.order) > st.limit {
		delete(st.runs, st.order[0])
		st.order = st.order[1:]
	}
	st.latest = res
	st.snapshot = nil
	path := st.cachePath
	st.mu.Unlock()

	if path != "" {
		if err := SaveRunSnapshot(path, &RunSnapshot{Summary: res.Summary(), Craters: res.Craters}); err != nil {
			log.Printf("Warning: failed to save run cache: %v", err)
		}
	}
}

// Latest returns the most recent run, nil when none has finished
func (st *RunStore) Latest() *RunResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest
}

// LatestCatalogue returns the summary and craters of the latest run, falling
// back to the cached snapshot.
func (st *RunStore) LatestCatalogue() (RunSummary, []Crater, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.latest != nil {
		return st.latest.Summary(), st.latest.Craters, true
	}
	if st.snapshot != nil {
		return st.snapshot.Summary, st.snapshot.Craters, true
	}
	return RunSummary{}, nil, false
}

// Get returns a run by ID
func (st *RunStore) Get(runID string) (*RunResult, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	res, ok := st.runs[runID]
	return res, ok
}

// Summaries returns the summaries of the stored runs, newest first
func (st *RunStore) Summaries() []RunSummary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]RunSummary, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.runs[id].Summary())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// HasResults reports whether a run or cached snapshot is available
func (st *RunStore) HasResults() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest != nil || st.snapshot != nil
}

// SaveRunSnapshot writes a run snapshot as JSON
func SaveRunSnapshot(path string, snap *RunSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run snapshot: %w", err)
	}
	return writeFile(path, data)
}

// LoadRunSnapshot reads a run snapshot. A missing file yields nil, nil.
func LoadRunSnapshot(path string) (*RunSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run snapshot: %w", err)
	}
	var snap RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing run snapshot: %w", err)
	}
	return &snap, nil
}
