package session

import "sync"

// subscriber delivers committed session values to one observer, in order
// and without coalescing. A slow consumer grows the queue rather than
// stalling the writer.
type subscriber struct {
	out    chan Session
	notify chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []Session
}

func newSubscriber(initial Session) *subscriber {
	s := &subscriber{
		out:    make(chan Session),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		queue:  []Session{initial},
	}
	s.wake()
	go s.drain()
	return s
}

// push enqueues a session value for delivery
func (s *subscriber) push(value Session) {
	s.mu.Lock()
	s.queue = append(s.queue, value)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// close stops delivery. The Manager calls it exactly once per subscriber,
// guarded by the cancel func's sync.Once.
func (s *subscriber) close() {
	close(s.done)
}

// drain moves queued values to the output channel until closed
func (s *subscriber) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			value := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- value:
			case <-s.done:
				return
			}
		}
	}
}
