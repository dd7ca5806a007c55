package jobs

import (
	"sync"
)

// Sequencer applies results in the order their requests were issued, not the
// order they complete. A result whose request is older than the last applied
// one is dropped.
type Sequencer struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// Issue returns the sequence number for a new request.
func (s *Sequencer) Issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Apply runs fn if seq is newer than every applied result and reports
// whether it ran. fn runs under the sequencer's lock.
func (s *Sequencer) Apply(seq uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	if fn != nil {
		fn()
	}
	return true
}

// Applied returns the last applied sequence number.
func (s *Sequencer) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}
