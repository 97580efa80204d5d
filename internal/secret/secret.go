// Package secret holds credential material in buffers that can be wiped once the
// owner no longer needs them.
package secret

import "sync"

// Secret is a mutable byte buffer. The zero value and nil are both empty secrets.
type Secret struct {
	mu  sync.RWMutex
	buf []byte
}

func New(value string) *Secret {
	return &Secret{buf: []byte(value)}
}

// Reveal returns a copy of the plaintext. Callers capture the value at use time,
// so a later Wipe does not affect requests already built from it.
func (s *Secret) Reveal() string {
	if s == nil {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return string(s.buf)
}

func (s *Secret) Empty() bool {
	if s == nil {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.buf) == 0
}

func (s *Secret) Clone() *Secret {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := make([]byte, len(s.buf))
	copy(buf, s.buf)

	return &Secret{buf: buf}
}

// Wipe zeroes the buffer and releases it. Safe to call more than once.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.buf {
		s.buf[i] = 0
	}
	s.buf = nil
}

// String never prints the secret.
func (s *Secret) String() string {
	return "[redacted]"
}

func (s *Secret) GoString() string {
	return "secret.Secret{[redacted]}"
}
