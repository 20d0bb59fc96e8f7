// Package session holds per-connection RPC state: the nonces allocated to
// this session's outstanding text and image jobs and the byte cursor for
// streaming text reads. A Session is created on accept and discarded on
// disconnect; nonces are never reused within it.
package session

import (
	"net"
	"sync"
)

// Session is the per-client state a Session's RPC handlers mutate. The
// unexported fields are guarded by mu; PeerAddr is set once by New and not
// changed afterwards.
type Session struct {
	mu sync.Mutex

	PeerAddr net.Addr

	textNonce uint64
	hasText   bool

	imageNonce uint64
	hasImage   bool

	textReadCursor int64
}

// New creates a session for a freshly accepted connection.
func New(peer net.Addr) *Session {
	return &Session{PeerAddr: peer}
}

// TextNonce returns the session's current text nonce, if one has been
// allocated yet.
func (s *Session) TextNonce() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textNonce, s.hasText
}

// SetTextNonce records a freshly allocated text nonce and resets the read
// cursor, as happens on every text_begin call.
func (s *Session) SetTextNonce(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textNonce = nonce
	s.hasText = true
	s.textReadCursor = 0
}

// TextReadCursor returns the byte offset already returned to this client
// for the current text job.
func (s *Session) TextReadCursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textReadCursor
}

// AdvanceTextReadCursor sets the cursor after a successful chunk read.
func (s *Session) AdvanceTextReadCursor(cursor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textReadCursor = cursor
}

// ImageNonce returns the session's current image nonce, if one has been
// allocated yet.
func (s *Session) ImageNonce() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageNonce, s.hasImage
}

// SetImageNonce records a freshly allocated image nonce.
func (s *Session) SetImageNonce(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageNonce = nonce
	s.hasImage = true
}
