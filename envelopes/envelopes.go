// Package envelopes encodes and decodes the JSON array messages exchanged with
// a nostr relay.
package envelopes

import (
	"encoding/json"

	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/text"
)

// Labels of the message types a client sends or receives.
const (
	LEvent  = "EVENT"
	LReq    = "REQ"
	LClose  = "CLOSE"
	LOK     = "OK"
	LEOSE   = "EOSE"
	LClosed = "CLOSED"
	LNotice = "NOTICE"
	LAuth   = "AUTH"
)

// I is any message that can be sent or received over a relay connection.
type I interface {
	Label() string
	Marshal(dst []byte) []byte
}

// Event carries an event, with a subscription ID when it comes from a relay
// and without one when a client publishes.
type Event struct {
	Subscription string
	Event        *event.T
}

func (en *Event) Label() string { return LEvent }

func (en *Event) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["EVENT",`...)
	if en.Subscription != "" {
		b = text.AppendQuote(b, []byte(en.Subscription), text.NostrEscape)
		b = append(b, ',')
	}
	b = en.Event.Marshal(b)
	b = append(b, ']')
	return
}

// Req opens a subscription.
type Req struct {
	Subscription string
	Filters      []*filter.T
}

func (en *Req) Label() string { return LReq }

func (en *Req) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["REQ",`...)
	b = text.AppendQuote(b, []byte(en.Subscription), text.NostrEscape)
	for _, f := range en.Filters {
		fb, err := f.MarshalJSON()
		if chk.E(err) {
			continue
		}
		b = append(b, ',')
		b = append(b, fb...)
	}
	b = append(b, ']')
	return
}

// Close ends a subscription.
type Close struct{ Subscription string }

func (en *Close) Label() string { return LClose }

func (en *Close) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["CLOSE",`...)
	b = text.AppendQuote(b, []byte(en.Subscription), text.NostrEscape)
	b = append(b, ']')
	return
}

// OK is a relay's acceptance or rejection of a published event.
type OK struct {
	EventID string
	OK      bool
	Reason  string
}

func (en *OK) Label() string { return LOK }

func (en *OK) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["OK",`...)
	b = text.AppendQuote(b, []byte(en.EventID), text.NostrEscape)
	if en.OK {
		b = append(b, ",true,"...)
	} else {
		b = append(b, ",false,"...)
	}
	b = text.AppendQuote(b, []byte(en.Reason), text.NostrEscape)
	b = append(b, ']')
	return
}

// EOSE marks the end of stored events for a subscription.
type EOSE struct{ Subscription string }

func (en *EOSE) Label() string { return LEOSE }

func (en *EOSE) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["EOSE",`...)
	b = text.AppendQuote(b, []byte(en.Subscription), text.NostrEscape)
	b = append(b, ']')
	return
}

// Closed is a relay ending a subscription on its own.
type Closed struct {
	Subscription string
	Reason       string
}

func (en *Closed) Label() string { return LClosed }

func (en *Closed) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["CLOSED",`...)
	b = text.AppendQuote(b, []byte(en.Subscription), text.NostrEscape)
	b = append(b, ',')
	b = text.AppendQuote(b, []byte(en.Reason), text.NostrEscape)
	b = append(b, ']')
	return
}

// Notice is a human readable message from the relay.
type Notice struct{ Message string }

func (en *Notice) Label() string { return LNotice }

func (en *Notice) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["NOTICE",`...)
	b = text.AppendQuote(b, []byte(en.Message), text.NostrEscape)
	b = append(b, ']')
	return
}

// Auth is a relay's authentication challenge.
type Auth struct{ Challenge string }

func (en *Auth) Label() string { return LAuth }

func (en *Auth) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["AUTH",`...)
	b = text.AppendQuote(b, []byte(en.Challenge), text.NostrEscape)
	b = append(b, ']')
	return
}

// AuthResponse is the client's signed answer to an Auth challenge.
type AuthResponse struct{ Event *event.T }

func (en *AuthResponse) Label() string { return LAuth }

func (en *AuthResponse) Marshal(dst []byte) (b []byte) {
	b = append(dst, `["AUTH",`...)
	b = en.Event.Marshal(b)
	b = append(b, ']')
	return
}

// Parse decodes a message received from a relay.
func Parse(b []byte) (en I, err error) {
	var fields []json.RawMessage
	if err = json.Unmarshal(b, &fields); chk.D(err) {
		err = errorf.E("relay message is not a JSON array: %w", err)
		return
	}
	if len(fields) < 2 {
		err = errorf.E("relay message too short: %s", b)
		return
	}
	var label string
	if err = json.Unmarshal(fields[0], &label); chk.D(err) {
		return
	}
	str := func(i int) (s string) {
		if i < len(fields) {
			_ = json.Unmarshal(fields[i], &s)
		}
		return
	}
	switch label {
	case LEvent:
		if len(fields) < 3 {
			err = errorf.E("EVENT message missing event")
			return
		}
		ev := &event.T{}
		if err = ev.UnmarshalJSON(fields[2]); chk.D(err) {
			return
		}
		en = &Event{Subscription: str(1), Event: ev}
	case LOK:
		if len(fields) < 3 {
			err = errorf.E("OK message missing status")
			return
		}
		o := &OK{EventID: str(1), Reason: str(3)}
		if err = json.Unmarshal(fields[2], &o.OK); chk.D(err) {
			return
		}
		en = o
	case LEOSE:
		en = &EOSE{Subscription: str(1)}
	case LClosed:
		en = &Closed{Subscription: str(1), Reason: str(2)}
	case LNotice:
		en = &Notice{Message: str(1)}
	case LAuth:
		en = &Auth{Challenge: str(1)}
	default:
		err = errorf.E("unknown relay message %q", label)
	}
	return
}
