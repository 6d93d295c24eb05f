package runtimestate

import "sync/atomic"

// CancelToken is a per-request atomic boolean flipped by the cancel
// handler and polled by the generation loop at its well-defined poll
// points. It satisfies generate.Canceller directly, so a handler can
// hand one straight to generate.Config.Cancel without an adapter.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel flips the token. Idempotent: cancelling twice is a no-op.
func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool { return t.cancelled.Load() }

// NewToken registers a fresh token under requestID, replacing any
// previous token registered under the same id.
func (s *RuntimeState) NewToken(requestID string) *CancelToken {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	t := &CancelToken{}
	s.tokens[requestID] = t
	return t
}

// Cancel looks up requestID in the active-requests map and flips its
// token, reporting whether a matching request was found.
func (s *RuntimeState) Cancel(requestID string) bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	t, ok := s.tokens[requestID]
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// ReleaseToken removes requestID's entry once its request has finished,
// so the active-requests map doesn't grow without bound.
func (s *RuntimeState) ReleaseToken(requestID string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	delete(s.tokens, requestID)
}
