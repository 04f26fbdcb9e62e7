// Package sema implements a simple counting semaphore, used to bound the
// number of concurrent block uploads against a single destination.
package sema

// A Semaphore limits concurrent access to a restricted resource.
type Semaphore struct {
	ch chan struct{}
}

// New returns a new semaphore with capacity n. n must be at least 1.
func New(n uint) *Semaphore {
	if n == 0 {
		n = 1
	}
	return &Semaphore{ch: make(chan struct{}, n)}
}

// GetToken blocks until a token is available.
func (s *Semaphore) GetToken() { s.ch <- struct{}{} }

// ReleaseToken returns a token.
func (s *Semaphore) ReleaseToken() { <-s.ch }
