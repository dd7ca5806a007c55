package betting

import (
	"sync"
	"time"

	"github.com/stormcast/stormcast-backend/internal/markets"
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// Submission is one client's view of its latest submission.
type Submission struct {
	State State
	// LastError survives the return to idle after a failure.
	LastError string
	// LastOutcome is committed or failed once anything has been submitted.
	LastOutcome State
	BetID       string
	UpdatedAt   time.Time
}

// Gate allows at most one in-flight submission per client id.
type Gate struct {
	mu      sync.Mutex
	clients map[string]*Submission
	now     func() time.Time
}

func NewGate() *Gate {
	return &Gate{clients: make(map[string]*Submission), now: time.Now}
}

func (g *Gate) get(client string) *Submission {
	s, ok := g.clients[client]
	if !ok {
		s = &Submission{State: StateIdle}
		g.clients[client] = s
	}
	return s
}

// Begin moves client to submitting, or fails with ErrSubmissionInFlight.
func (g *Gate) Begin(client string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.get(client)
	if s.State == StateSubmitting {
		return markets.ErrSubmissionInFlight
	}
	s.State = StateSubmitting
	s.BetID = ""
	s.UpdatedAt = g.now()
	return nil
}

func (g *Gate) Commit(client, betID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.get(client)
	s.State = StateCommitted
	s.LastOutcome = StateCommitted
	s.LastError = ""
	s.BetID = betID
	s.UpdatedAt = g.now()
}

// Fail records err and returns client to idle.
func (g *Gate) Fail(client string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.get(client)
	s.State = StateIdle
	s.LastOutcome = StateFailed
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = g.now()
}

func (g *Gate) State(client string) Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.clients[client]; ok {
		return *s
	}
	return Submission{State: StateIdle}
}
