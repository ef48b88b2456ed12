package indexer

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle state of a folder's index.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseScanning        Phase = "scanning"
	PhaseParsing         Phase = "parsing"
	PhaseEmbedding       Phase = "embedding"
	PhaseClustering      Phase = "clustering"
	PhaseReady           Phase = "ready"
	PhaseReadyWithErrors Phase = "ready-with-errors"
	PhaseError           Phase = "error"
)

// validTransitions encodes the folder lifecycle. Error is reachable
// from any phase and so is not listed.
var validTransitions = map[Phase][]Phase{
	PhasePending:         {PhaseScanning},
	PhaseScanning:        {PhaseParsing, PhaseReady},
	PhaseParsing:         {PhaseEmbedding},
	PhaseEmbedding:       {PhaseClustering},
	PhaseClustering:      {PhaseReady, PhaseReadyWithErrors},
	PhaseReady:           {PhaseScanning},
	PhaseReadyWithErrors: {PhaseScanning},
	PhaseError:           {PhaseScanning},
}

// Terminal reports whether the phase is a resting state rather than a
// mid-run one.
func (p Phase) Terminal() bool {
	switch p {
	case PhasePending, PhaseReady, PhaseReadyWithErrors, PhaseError:
		return true
	}
	return false
}

// Progress counts work done during an indexing run.
type Progress struct {
	FilesTotal     int `json:"files_total"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
	FilesDeleted   int `json:"files_deleted"`
	ChunksTotal    int `json:"chunks_total"`
	ChunksEmbedded int `json:"chunks_embedded"`
	ChunksFailed   int `json:"chunks_failed"`
}

// Status is a point-in-time snapshot of a folder's index state.
type Status struct {
	Phase      Phase     `json:"phase"`
	Searchable bool      `json:"searchable"`
	Progress   Progress  `json:"progress"`
	LastError  string    `json:"last_error,omitempty"`
	LastRun    time.Time `json:"last_run,omitempty"`
}

// state tracks a folder's phase and progress behind a mutex. Search
// reads it concurrently with an indexing run.
type state struct {
	mu         sync.RWMutex
	phase      Phase
	searchable bool
	progress   Progress
	lastError  string
	lastRun    time.Time
}

func newState() *state {
	return &state{phase: PhasePending}
}

// transition moves to the next phase, rejecting moves the lifecycle
// does not allow. Error is always allowed.
func (s *state) transition(next Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next == PhaseError {
		s.phase = next
		return nil
	}
	for _, allowed := range validTransitions[s.phase] {
		if allowed == next {
			s.phase = next
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition %s -> %s", s.phase, next)
}

// restore forces the phase back to a prior resting state after a
// cancelled run.
func (s *state) restore(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *state) setSearchable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchable = v
}

func (s *state) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseError
	s.lastError = err.Error()
}

func (s *state) resetProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = Progress{}
	s.lastError = ""
}

func (s *state) update(fn func(p *Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.progress)
}

func (s *state) finishRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
}

// Snapshot returns a copy of the current status.
func (s *state) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Phase:      s.phase,
		Searchable: s.searchable,
		Progress:   s.progress,
		LastError:  s.lastError,
		LastRun:    s.lastRun,
	}
}
