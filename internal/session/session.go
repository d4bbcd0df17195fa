// Package session tracks the per-slot dialogue position. A slot is one
// channel/thread pair; each slot owns at most one in-flight submission.
package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zulandar/archivebot/internal/models"
)

// Key identifies a conversation slot.
type Key struct {
	ChannelID string
	ThreadID  string
}

// String returns the "channelID:threadID" form used in logs.
func (k Key) String() string {
	return k.ChannelID + ":" + k.ThreadID
}

// State is the dialogue position of one slot. Record is nil exactly when
// Step is idle.
type State struct {
	Step   models.Step
	Record *models.Submission
}

// Idle reports whether the slot has no submission in flight.
func (s State) Idle() bool {
	return s.Step == models.StepIdle
}

// Store holds session state for every slot. Absent slots are idle.
type Store struct {
	mu    sync.RWMutex
	slots map[Key]State
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{slots: make(map[Key]State)}
}

// Get returns the state for key, idle when unknown.
func (s *Store) Get(key Key) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.slots[key]
	if !ok {
		return State{Step: models.StepIdle}
	}
	return st
}

// Put sets the state for key. Putting an idle state clears the slot.
func (s *Store) Put(key Key, st State) error {
	if !st.Step.Valid() {
		return fmt.Errorf("session: put %s: unknown step %q", key, st.Step)
	}
	if st.Idle() {
		s.Clear(key)
		return nil
	}
	if st.Record == nil {
		return fmt.Errorf("session: put %s: step %s requires a record", key, st.Step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = st
	return nil
}

// Clear resets key to idle.
func (s *Store) Clear(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
}

// Len returns the number of non-idle slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Keys returns the non-idle slot keys, sorted.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
