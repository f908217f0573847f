package nwc

import (
	"errors"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/log"
	"zapsplit.lol/signer"
	"zapsplit.lol/ws"
)

// Transport carries wallet connect events to and from the wallet's relay.
type Transport interface {
	// Publish sends an event and waits for the relay to acknowledge it. A
	// relay refusing the event gives an error wrapping ErrRelayRejected.
	Publish(c context.T, ev *event.T) error
	// Subscribe streams matching events until c is done or the connection
	// drops, when the channel is closed.
	Subscribe(c context.T, f *filter.T) (<-chan *event.T, error)
	// QueryLatest returns the newest stored event matching f, or nil.
	QueryLatest(c context.T, f *filter.T) (*event.T, error)
	Close() error
}

// Dialer opens a Transport to the first reachable relay of a list.
type Dialer func(c context.T, relays []string, sign signer.I) (Transport, error)

type relayTransport struct {
	pool   *ws.Pool
	relays []string
}

// DialRelays connects to the relays in order and keeps the first that
// answers.
func DialRelays(c context.T, relays []string, sign signer.I) (t Transport,
	err error) {
	pool := ws.NewPool(context.Bg(), ws.WithAuthSigner(sign))
	var errs []error
	for _, url := range relays {
		if c.Err() != nil {
			errs = append(errs, c.Err())
			break
		}
		if _, err = pool.EnsureRelay(url); err != nil {
			log.W.F("wallet relay %s: %v", url, err)
			errs = append(errs, err)
			continue
		}
		log.I.F("connected to wallet relay %s", url)
		return &relayTransport{pool: pool, relays: []string{url}}, nil
	}
	pool.Close()
	err = errorf.E("no wallet relay reachable: %w",
		errors.Join(append(errs, ErrConnectionClosed)...))
	return
}

func (t *relayTransport) Publish(c context.T, ev *event.T) (err error) {
	if _, err = t.pool.Publish(c, t.relays, ev); err != nil {
		var rej *ws.RejectedError
		if errors.As(err, &rej) {
			err = errorf.D("%s: %s: %w", rej.Relay, rej.Reason, ErrRelayRejected)
		} else if errors.Is(err, ws.ErrConnectionClosed) {
			err = errorf.D("%v: %w", err, ErrConnectionClosed)
		}
	}
	return
}

func (t *relayTransport) Subscribe(c context.T, f *filter.T) (evs <-chan *event.T,
	err error) {
	var in chan ws.IncomingEvent
	if in, err = t.pool.SubMany(c, t.relays, f); chk.E(err) {
		return
	}
	out := make(chan *event.T)
	go func() {
		defer close(out)
		for ie := range in {
			select {
			case out <- ie.Event:
			case <-c.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *relayTransport) QueryLatest(c context.T, f *filter.T) (*event.T, error) {
	return t.pool.QueryLatest(c, t.relays, f)
}

func (t *relayTransport) Close() error {
	t.pool.Close()
	return nil
}
