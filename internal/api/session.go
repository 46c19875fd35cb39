package api

import (
	"container/list"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/hls-vod-too/vod"
)

// sessionCtx is one client's current association: the backend it plays from
// and the coordinates that picked it.
type sessionCtx struct {
	clientID  string
	mediaType vod.MediaType
	file      string
	quality   string
	backend   *vod.BackendCtx
}

// SessionManagerCtx tracks which backend every client currently plays from.
// A client has at most one association; the oldest client is evicted once the
// capacity is reached.
type SessionManagerCtx struct {
	logger zerolog.Logger

	max int

	mu      sync.Mutex
	order   *list.List // front is the oldest client
	clients map[string]*list.Element
}

func newSessionManager(max int) *SessionManagerCtx {
	return &SessionManagerCtx{
		logger:  log.With().Str("module", "api").Str("submodule", "sessions").Logger(),
		max:     max,
		order:   list.New(),
		clients: map[string]*list.Element{},
	}
}

// Lookup returns the client's current association, if any.
func (s *SessionManagerCtx) Lookup(clientID string) *sessionCtx {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.clients[clientID]; ok {
		return element.Value.(*sessionCtx)
	}
	return nil
}

// Put registers an association, replacing any previous one of the same client
// and marking it as newest.
func (s *SessionManagerCtx) Put(session *sessionCtx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.clients[session.clientID]; ok {
		element.Value = session
		s.order.MoveToBack(element)
		return
	}

	s.clients[session.clientID] = s.order.PushBack(session)
}

// Remove drops the client's association and returns it, if any.
func (s *SessionManagerCtx) Remove(clientID string) *sessionCtx {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.clients[clientID]
	if !ok {
		return nil
	}

	s.order.Remove(element)
	delete(s.clients, clientID)
	return element.Value.(*sessionCtx)
}

// EvictIfFull makes room for one more client, returning the evicted session
// when the capacity was reached.
func (s *SessionManagerCtx) EvictIfFull() *sessionCtx {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order.Len() < s.max {
		return nil
	}

	element := s.order.Front()
	session := element.Value.(*sessionCtx)

	s.order.Remove(element)
	delete(s.clients, session.clientID)

	s.logger.Info().Str("client", session.clientID).Msg("evicting oldest client")
	return session
}

// Count reports how many clients are tracked.
func (s *SessionManagerCtx) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.order.Len()
}
