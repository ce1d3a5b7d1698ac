// Package session owns the conversation session: its accumulated state
// (active stage, profile, plan, pending visualizations) and the orchestrator
// that drives one user turn through decision, generation, and tool dispatch.
package session

import (
	"sync"

	"github.com/google/uuid"

	"wildfiregpt/internal/stage"
	"wildfiregpt/internal/tools"
)

// State is the per-session accumulated state. All fields are guarded; the
// orchestrator mutates them, the UI reads snapshots.
type State struct {
	mu sync.RWMutex

	id       string
	stage    stage.Name
	threadID string
	profile  string
	plan     string

	// visualizations are artifacts produced since the last drain, in
	// tool-return order.
	visualizations []tools.Artifact
}

// NewState creates an empty session state with a fresh ID.
func NewState() *State {
	return &State{id: uuid.NewString()}
}

// ID returns the session identifier.
func (s *State) ID() string {
	return s.id
}

// View is a read-only snapshot of the session state.
type View struct {
	ID       string
	Stage    stage.Name
	ThreadID string
	Profile  string
	Plan     string
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		ID:       s.id,
		Stage:    s.stage,
		ThreadID: s.threadID,
		Profile:  s.profile,
		Plan:     s.plan,
	}
}

func (s *State) setStage(name stage.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = name
}

func (s *State) setThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = threadID
}

// applyArgs folds stage activation arguments into the session. Empty values
// leave the existing state alone; a present value replaces it, which is how
// the edit action rolls the plan back.
func (s *State) applyArgs(args stage.InitArgs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if args.Checklist != "" {
		s.profile = args.Checklist
	}
	s.plan = args.Plan
}

func (s *State) pushVisualizations(arts []tools.Artifact) {
	if len(arts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visualizations = append(s.visualizations, arts...)
}

// DrainVisualizations returns and clears the pending artifacts. The front
// end calls this after rendering a turn.
func (s *State) DrainVisualizations() []tools.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.visualizations
	s.visualizations = nil
	return out
}
