package dispatcher

import "github.com/afikmenashe/security-alerting/internal/alert"

// Sender is the handle producers use to submit alerts. It is safe for
// concurrent use and cheap to copy.
type Sender struct {
	queue chan<- alert.Event
	done  <-chan struct{}
}

// Submit enqueues an alert without waiting for its delivery. It blocks only
// while the queue is full and fails with ErrQueueClosed after shutdown.
func (s *Sender) Submit(ev alert.Event) error {
	select {
	case <-s.done:
		return ErrQueueClosed
	default:
	}

	select {
	case s.queue <- ev:
		return nil
	case <-s.done:
		return ErrQueueClosed
	}
}
