package nwc

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"zapsplit.lol/errorf"
)

type result struct {
	resp *Response
	err  error
}

// pending is a dispatched request waiting for its response. It is settled
// exactly once, by a response, its timer, or the connection closing.
type pending struct {
	eventID   string
	payloadID string
	scheme    string
	once      sync.Once
	timer     *time.Timer
	done      chan result
}

// registry correlates responses with requests. A request is reachable by
// both its event id and its payload id.
type registry struct {
	m *xsync.MapOf[string, *pending]
	// onSettle is called once per settled request.
	onSettle func()
}

func newRegistry() *registry {
	return &registry{m: xsync.NewMapOf[string, *pending]()}
}

// add registers a request that fails with ErrRequestTimedOut after timeout.
func (r *registry) add(eventID, payloadID, scheme string,
	timeout time.Duration) (p *pending) {
	p = &pending{
		eventID:   eventID,
		payloadID: payloadID,
		scheme:    scheme,
		done:      make(chan result, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		r.finish(p, result{err: errorf.D("no response to %s after %v: %w",
			eventID, timeout, ErrRequestTimedOut)})
	})
	if eventID != "" {
		r.m.Store(eventID, p)
	}
	if payloadID != "" {
		r.m.Store(payloadID, p)
	}
	return
}

// lookup finds a request by any of ids, skipping empty ones.
func (r *registry) lookup(ids ...string) (p *pending, ok bool) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if p, ok = r.m.Load(id); ok {
			return
		}
	}
	return
}

// settle completes p unless it already finished, and reports whether this
// call did it.
func (r *registry) settle(p *pending, res result) (settled bool) {
	if settled = r.finish(p, res); settled {
		p.timer.Stop()
	}
	return
}

func (r *registry) finish(p *pending, res result) (settled bool) {
	p.once.Do(func() {
		r.m.Delete(p.eventID)
		r.m.Delete(p.payloadID)
		p.done <- res
		settled = true
		if r.onSettle != nil {
			r.onSettle()
		}
	})
	return
}

// rejectAll settles every outstanding request with err.
func (r *registry) rejectAll(err error) {
	r.m.Range(func(_ string, p *pending) bool {
		r.settle(p, result{err: err})
		return true
	})
}

// has reports whether id belongs to an outstanding request.
func (r *registry) has(id string) bool {
	_, ok := r.m.Load(id)
	return ok
}

// len counts outstanding requests.
func (r *registry) len() (n int) {
	seen := map[*pending]struct{}{}
	r.m.Range(func(_ string, p *pending) bool {
		seen[p] = struct{}{}
		return true
	})
	return len(seen)
}
