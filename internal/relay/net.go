package relay

import "context"

// clientSemaphore caps the number of attached clients. A nil channel
// (from newClientSemaphore(0)) imposes no limit.
type clientSemaphore struct {
	ch chan struct{}
}

func newClientSemaphore(max int) *clientSemaphore {
	if max <= 0 {
		return &clientSemaphore{}
	}
	return &clientSemaphore{ch: make(chan struct{}, max)}
}

func (s *clientSemaphore) tryAcquire(ctx context.Context) bool {
	if s.ch == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

func (s *clientSemaphore) release() {
	if s.ch == nil {
		return
	}
	<-s.ch
}
