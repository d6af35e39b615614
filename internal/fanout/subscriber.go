package fanout

import (
	"context"
	"sync"
)

// Subscriber is one live session's view of the stream. Its queue is owned by
// the hub's publish path and drained by the session's writer via Next.
type Subscriber struct {
	id     string
	filter Filter

	mu     sync.Mutex
	buf    []Envelope
	cap    int
	closed bool
	// notify carries at most one pending wakeup for the drainer.
	notify chan struct{}
}

func newSubscriber(id string, filter Filter, depth int) *Subscriber {
	return &Subscriber{
		id:     id,
		filter: filter,
		cap:    depth,
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscriber) ID() string {
	return s.id
}

// offer enqueues env without ever blocking. When the queue is full the new
// message is recorded as a gap marker instead; buffered messages are never
// discarded. Returns false when env was absorbed into a gap.
func (s *Subscriber) offer(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	delivered := false
	if len(s.buf) < s.cap {
		s.buf = append(s.buf, env)
		delivered = true
	} else {
		s.recordGapLocked(env.Message.ConversationID)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return delivered
}

// recordGapLocked notes one lost message. Consecutive losses merge into the
// trailing gap marker, so the buffer never exceeds cap plus one marker. A
// marker whose losses span conversations carries conversation id 0.
func (s *Subscriber) recordGapLocked(convID int64) {
	if n := len(s.buf); n > 0 && s.buf[n-1].Kind == KindGap {
		tail := s.buf[n-1].Gap
		if tail.ConversationID != convID {
			tail.ConversationID = 0
		}
		tail.Dropped++
		return
	}
	s.buf = append(s.buf, Envelope{
		Kind: KindGap,
		Gap:  &GapMarker{ConversationID: convID, Dropped: 1},
	})
}

// Next blocks until an envelope is available, the context ends, or the
// subscriber is closed. The second result is false once the subscriber is
// closed and drained.
func (s *Subscriber) Next(ctx context.Context) (Envelope, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			env := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return env, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Envelope{}, false
		}

		select {
		case <-ctx.Done():
			return Envelope{}, false
		case <-s.notify:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
