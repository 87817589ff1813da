package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/conversation"
	"github.com/MegaGrindStone/veo-web-ui/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"
)

// session is one chat page load: a conversation and the event stream it is pushed through.
type session struct {
	id           string
	conversation *conversation.Controller
	events       *sse.Server

	lastSeen time.Time
}

type sessions struct {
	mu  sync.Mutex
	m   map[string]*session
	ttl time.Duration
	now func() time.Time
}

type sessionCtxKey struct{}

func newSessions(ttl time.Duration) *sessions {
	return &sessions{
		m:   make(map[string]*session),
		ttl: ttl,
		now: time.Now,
	}
}

func (s *sessions) add(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.lastSeen = s.now()
	s.m[sess.id] = sess
	metrics.SessionsActive.Inc()
}

// get returns the session with the given id and marks it as seen.
func (s *sessions) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.m[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess, true
}

// expired removes and returns the sessions idle for longer than the TTL.
func (s *sessions) expired() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(-s.ttl)
	var res []*session
	for id, sess := range s.m {
		if sess.lastSeen.After(deadline) {
			continue
		}
		if sess.conversation.Snapshot().IsSubmitting {
			continue
		}
		delete(s.m, id)
		res = append(res, sess)
	}
	return res
}

// drain removes and returns every session.
func (s *sessions) drain() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]*session, 0, len(s.m))
	for id, sess := range s.m {
		delete(s.m, id)
		res = append(res, sess)
	}
	return res
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func sessionClosed() {
	metrics.SessionsActive.Dec()
}

// withSession resolves the {sessionID} URL parameter, answering 404 for unknown sessions.
func (m Main) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := m.sessions.get(chi.URLParam(r, "sessionID"))
		if !ok {
			http.Error(w, "Chat session not found", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, sess)))
	})
}

func sessionFrom(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*session)
	return sess
}
