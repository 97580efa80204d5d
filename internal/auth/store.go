package auth

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/jgivc/recfetch/internal/entity"
)

// Store holds the current token and the pending authorization flows.
// Only Manager writes to it.
type Store struct {
	mu    sync.RWMutex
	token *entity.AuthToken
	flows map[string]*entity.AuthFlowState
}

func NewStore() *Store {
	return &Store{
		flows: make(map[string]*entity.AuthFlowState),
	}
}

// CloneToken returns a private copy of the current token, or nil.
func (s *Store) CloneToken() *entity.AuthToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token.Clone()
}

// ReplaceToken installs token and wipes the one it supersedes.
func (s *Store) ReplaceToken(token *entity.AuthToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token {
		s.token.Wipe()
	}
	s.token = token
}

func (s *Store) PutFlow(flow *entity.AuthFlowState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flow.FlowID] = flow
}

// TakeFlow removes and returns the flow. A second call with the same id finds nothing.
func (s *Store) TakeFlow(flowID string) (*entity.AuthFlowState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if ok {
		delete(s.flows, flowID)
	}

	return flow, ok
}

func (s *Store) FlowByCSRF(csrf string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, flow := range s.flows {
		if subtle.ConstantTimeCompare([]byte(flow.CSRFToken), []byte(csrf)) == 1 {
			return id, true
		}
	}

	return "", false
}

// PurgeExpired drops flows older than the flow lifetime and returns how many were removed.
func (s *Store) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, flow := range s.flows {
		if flow.Expired(now) {
			flow.PKCEVerifier.Wipe()
			delete(s.flows, id)
			n++
		}
	}

	return n
}

func (s *Store) FlowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.flows)
}

// Reset wipes the token and every pending flow.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token.Wipe()
	s.token = nil

	for id, flow := range s.flows {
		flow.PKCEVerifier.Wipe()
		delete(s.flows, id)
	}
}
