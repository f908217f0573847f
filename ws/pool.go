package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/log"
	"zapsplit.lol/normalize"
)

// Pool keeps one connection per relay URL and fans publishes and
// subscriptions out across a set of relays.
type Pool struct {
	Relays  *xsync.MapOf[string, *Client]
	Context context.T
	cancel  context.F
	opts    []Option
	dialing singleflight.Group
}

// IncomingEvent is an event along with the relay that delivered it.
type IncomingEvent struct {
	Event  *event.T
	Client *Client
}

// NewPool creates a pool whose connections all get opts.
func NewPool(c context.T, opts ...Option) *Pool {
	ctx, cancel := context.Cancel(c)
	return &Pool{
		Relays:  xsync.NewMapOf[string, *Client](),
		Context: ctx,
		cancel:  cancel,
		opts:    opts,
	}
}

// EnsureRelay returns a live connection to url, dialing once even when called
// concurrently.
func (pool *Pool) EnsureRelay(url string) (*Client, error) {
	nm := normalize.URL(url)
	if nm == "" {
		return nil, errorf.E("invalid relay URL '%s'", url)
	}
	if relay, ok := pool.Relays.Load(nm); ok && relay.IsConnected() {
		return relay, nil
	}
	v, err, _ := pool.dialing.Do(nm, func() (any, error) {
		if relay, ok := pool.Relays.Load(nm); ok && relay.IsConnected() {
			return relay, nil
		}
		// we use this ctx here so when the pool dies everything dies
		ctx, cancel := context.Timeout(pool.Context, time.Second*15)
		defer cancel()
		relay := NewClient(pool.Context, nm, pool.opts...)
		if err := relay.Connect(ctx); chk.T(err) {
			return nil, errorf.E("failed to connect: %w", err)
		}
		pool.Relays.Store(nm, relay)
		return relay, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Publish sends ev to every relay in urls concurrently. It succeeds when at
// least one relay accepts the event, and otherwise returns every relay's
// failure joined together.
func (pool *Pool) Publish(c context.T, urls []string, ev *event.T) (
	accepted []string, err error) {
	var mx sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			relay, err := pool.EnsureRelay(url)
			if err == nil {
				err = relay.Publish(c, ev)
			}
			mx.Lock()
			defer mx.Unlock()
			if err != nil {
				log.D.F("publish %s to %s failed: %v", ev.IDString(), url, err)
				errs = append(errs, err)
				return
			}
			accepted = append(accepted, url)
		}(url)
	}
	wg.Wait()
	if len(accepted) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errorf.E("no relays to publish to"))
		}
		err = errors.Join(errs...)
	}
	return
}

// SubMany opens a subscription with the given filters on every relay in urls.
// Events are deduplicated by ID. The channel is closed when every relay
// subscription has ended, which happens when c is canceled.
func (pool *Pool) SubMany(c context.T, urls []string, ff ...*filter.T) (
	out chan IncomingEvent, err error) {
	var subs []*Subscription
	var errs []error
	for _, url := range urls {
		relay, err := pool.EnsureRelay(url)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sub, err := relay.Subscribe(c, ff...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errorf.E("no relays to subscribe to"))
		}
		return nil, errors.Join(errs...)
	}
	for _, e := range errs {
		log.W.Ln(e)
	}
	out = make(chan IncomingEvent)
	seen := xsync.NewMapOf[string, struct{}]()
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			for ev := range sub.Events {
				if _, dup := seen.LoadOrStore(ev.IDString(), struct{}{}); dup {
					continue
				}
				select {
				case out <- IncomingEvent{Event: ev, Client: sub.Relay}:
				case <-c.Done():
					return
				}
			}
		}(sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return
}

// QueryLatest asks every relay in urls for events matching f and returns the
// newest one seen before each relay signals the end of stored events or c is
// done. A nil event with nil error means no relay had a match.
func (pool *Pool) QueryLatest(c context.T, urls []string, f *filter.T) (
	latest *event.T, err error) {
	var mx sync.Mutex
	var wg sync.WaitGroup
	var errs []error
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			relay, err := pool.EnsureRelay(url)
			var evs []*event.T
			if err == nil {
				evs, err = relay.QuerySync(c, f)
			}
			mx.Lock()
			defer mx.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			for _, ev := range evs {
				if latest == nil || ev.CreatedAt > latest.CreatedAt {
					latest = ev
				}
			}
		}(url)
	}
	wg.Wait()
	if latest == nil && len(errs) == len(urls) && len(errs) > 0 {
		err = errors.Join(errs...)
	}
	return
}

// Close disconnects every relay in the pool.
func (pool *Pool) Close() {
	pool.cancel()
	pool.Relays.Range(func(url string, relay *Client) bool {
		chk.T(relay.Close())
		pool.Relays.Delete(url)
		return true
	})
}
