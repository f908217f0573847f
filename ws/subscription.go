package ws

import (
	"sync"
	"sync/atomic"

	"zapsplit.lol/context"
	"zapsplit.lol/envelopes"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/log"
)

type Subscription struct {
	id      string
	Relay   *Client
	Filters []*filter.T

	// The Events channel emits all EVENTs that come in a Subscription will be
	// closed when the subscription ends
	Events event.C
	mu     sync.Mutex

	// The EndOfStoredEvents channel is closed when an EOSE comes for that
	// subscription
	EndOfStoredEvents chan struct{}

	// The ClosedReason channel emits the reason when a CLOSED message is
	// received
	ClosedReason chan string

	// Context will be .Done() when the subscription ends
	Context context.T

	live   atomic.Bool
	eosed  atomic.Bool
	closed atomic.Bool
	cancel context.F

	// This keeps track of the events we've received before the EOSE that we
	// must dispatch before closing the EndOfStoredEvents channel
	storedwg sync.WaitGroup
}

// ID is the subscription ID sent to the relay.
func (sub *Subscription) ID() string { return sub.id }

// Matches reports whether ev satisfies any of the subscription filters.
func (sub *Subscription) Matches(ev *event.T) bool {
	for _, f := range sub.Filters {
		if f.Matches(ev) {
			return true
		}
	}
	return len(sub.Filters) == 0
}

func (sub *Subscription) start() {
	<-sub.Context.Done()
	// the subscription ends once the context is canceled (if not already)
	sub.Unsub() // this will set sub.live to false
	// do this so we don't have the possibility of closing the Events channel
	// and then trying to send to it
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

func (sub *Subscription) dispatchEvent(evt *event.T) {
	added := false
	if !sub.eosed.Load() {
		sub.storedwg.Add(1)
		added = true
	}
	go func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.live.Load() {
			select {
			case sub.Events <- evt:
			case <-sub.Context.Done():
			}
		}
		if added {
			sub.storedwg.Done()
		}
	}()
}

func (sub *Subscription) dispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		go func() {
			sub.storedwg.Wait()
			close(sub.EndOfStoredEvents)
		}()
	}
}

func (sub *Subscription) dispatchClosed(reason string) {
	if sub.closed.CompareAndSwap(false, true) {
		sub.ClosedReason <- reason
		sub.cancel()
	}
}

// Unsub closes the subscription, sending "CLOSE" to relay as in NIP-01.
// Unsub() also closes the channel sub.Events.
func (sub *Subscription) Unsub() {
	// cancel the context (if it's not canceled already)
	sub.cancel()
	// mark subscription as closed and send a CLOSE to the relay
	if sub.live.CompareAndSwap(true, false) {
		sub.Close()
	}
	// remove subscription from our map
	sub.Relay.Subscriptions.Delete(sub.id)
}

// Close just sends a CLOSE message. You probably want Unsub() instead.
func (sub *Subscription) Close() {
	if sub.Relay.IsConnected() {
		b := (&envelopes.Close{Subscription: sub.id}).Marshal(nil)
		log.T.F("{%s} sending %s", sub.Relay.URL(), b)
		<-sub.Relay.Write(b)
	}
}

// Fire sends the "REQ" command to the relay.
func (sub *Subscription) Fire() (err error) {
	b := (&envelopes.Req{Subscription: sub.id, Filters: sub.Filters}).Marshal(nil)
	log.T.F("{%s} sending %s", sub.Relay.URL(), b)
	sub.live.Store(true)
	if err = <-sub.Relay.Write(b); err != nil {
		sub.cancel()
		return errorf.E("failed to write: %w", err)
	}
	return
}
