package coordinator

import "github.com/sideswap-go/pegworker/internal/gateway"

// notifSink is an unbounded, order-preserving queue from the
// coordinator's push side to one client connection's read side. Push
// never blocks on a slow or stalled client; a backed-up client grows
// this queue's backing slice instead of stalling the coordinator (per
// spec's backpressure policy).
type notifSink struct {
	in   chan gateway.Notif
	out  chan gateway.Notif
	done chan struct{}
}

func newNotifSink() *notifSink {
	s := &notifSink{
		in:   make(chan gateway.Notif),
		out:  make(chan gateway.Notif),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// push enqueues notif. It is safe to call from the coordinator's single
// event loop goroutine; it never blocks past the queue goroutine
// picking it up.
func (s *notifSink) push(notif gateway.Notif) {
	select {
	case s.in <- notif:
	case <-s.done:
	}
}

// notifications returns the channel a client connection reads from.
func (s *notifSink) notifications() <-chan gateway.Notif {
	return s.out
}

// close stops the queue goroutine and closes the output channel.
func (s *notifSink) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *notifSink) run() {
	defer close(s.out)

	var queue []gateway.Notif
	for {
		if len(queue) == 0 {
			select {
			case n := <-s.in:
				queue = append(queue, n)
			case <-s.done:
				return
			}
			continue
		}

		select {
		case n := <-s.in:
			queue = append(queue, n)
		case s.out <- queue[0]:
			queue = queue[1:]
		case <-s.done:
			return
		}
	}
}
