package dispatch

import "sync"

// errorStream fans structural errors out to subscribers. Each
// subscriber owns a buffered channel; a full buffer drops its oldest
// entry to admit the newest, so slow consumers never block the engine.
type errorStream struct {
	mu     sync.Mutex
	subs   map[int]chan error
	next   int
	buffer int
	closed bool
}

func newErrorStream(buffer int) *errorStream {
	if buffer < 1 {
		buffer = 1
	}
	return &errorStream{
		subs:   make(map[int]chan error),
		buffer: buffer,
	}
}

// subscribe registers a new consumer. Subscriptions last until the
// stream closes with the engine; the channel is then closed.
func (s *errorStream) subscribe() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan error, s.buffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subs[s.next] = ch
	s.next++
	return ch
}

// publish delivers err to every subscriber without blocking.
func (s *errorStream) publish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- err:
			continue
		default:
		}
		// Full buffer: evict the oldest so the newest is never the one
		// lost. Publishes are serialized under the lock and receives
		// only free space, so this send lands without blocking.
		select {
		case <-ch:
		default:
		}
		ch <- err
	}
}

func (s *errorStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
