package lnurl

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"

	"zapsplit.lol/errorf"
	"zapsplit.lol/msat"
)

// PayTag is the tag of an LNURL-pay descriptor.
const PayTag = "payRequest"

// PayDescriptor is the sanitised pay service description served at a
// resolved LNURL. Values are shared through the cache and must not be
// modified.
type PayDescriptor struct {
	URL            string
	Tag            string
	Callback       string
	MinSendable    msat.T
	MaxSendable    msat.T
	CommentAllowed int
	AllowsNostr    bool
	NostrPubkey    string
	Metadata       [][]string
	Raw            json.RawMessage
}

// Description returns the text/plain metadata entry, if any.
func (d *PayDescriptor) Description() string {
	for _, m := range d.Metadata {
		if len(m) > 1 && m[0] == "text/plain" {
			return m[1]
		}
	}
	return ""
}

// document decodes a JSON object keeping numbers exact.
func document(b []byte) (doc map[string]any, err error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err = dec.Decode(&doc); err != nil || doc == nil {
		err = errorf.D("response is not a JSON object: %w", ErrInvalidResponse)
		return
	}
	return
}

// remoteError returns a *RemoteError when doc has status "ERROR".
func remoteError(doc map[string]any, fallback string) error {
	status, _ := doc["status"].(string)
	if !strings.EqualFold(status, "ERROR") {
		return nil
	}
	reason, _ := doc["reason"].(string)
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = fallback
	}
	return &RemoteError{Reason: reason}
}

// number reads a JSON number or numeric string, or returns fallback.
func number(v any, fallback float64) float64 {
	var f float64
	var err error
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return fallback
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

// millisats converts a sanitised amount, saturating at math.MaxInt64.
func millisats(f float64) msat.T {
	if f >= math.MaxInt64 {
		return msat.T(math.MaxInt64)
	}
	return msat.T(f)
}

func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// parseDescriptor sanitises a pay service document fetched from u.
func parseDescriptor(u string, body []byte) (d *PayDescriptor, err error) {
	var doc map[string]any
	if doc, err = document(body); err != nil {
		return
	}
	if err = remoteError(doc, "LNURL endpoint returned an error."); err != nil {
		return
	}
	callback := text(doc["callback"])
	if callback == "" {
		err = errorf.D("%s: missing callback: %w", u, ErrInvalidResponse)
		return
	}
	var cb *url.URL
	if cb, err = url.Parse(callback); err != nil ||
		(cb.Scheme != "https" && cb.Scheme != "http") || cb.Host == "" {
		err = errorf.D("%s: callback %q is not an http url: %w", u, callback,
			ErrInvalidResponse)
		return
	}
	minimum := math.Max(0, math.Round(number(doc["minSendable"], 0)))
	maximum := math.Max(minimum, math.Round(number(doc["maxSendable"], minimum)))
	d = &PayDescriptor{
		URL:            u,
		Tag:            PayTag,
		Callback:       callback,
		MinSendable:    millisats(minimum),
		MaxSendable:    millisats(maximum),
		CommentAllowed: int(math.Min(math.MaxInt32,
			math.Max(0, math.Round(number(doc["commentAllowed"], 0))))),
		NostrPubkey:    text(doc["nostrPubkey"]),
		Metadata:       metadata(doc["metadata"]),
		Raw:            append(json.RawMessage(nil), body...),
	}
	if tag, ok := doc["tag"].(string); ok {
		d.Tag = tag
	}
	d.AllowsNostr, _ = doc["allowsNostr"].(bool)
	return
}

// metadata parses the JSON encoded metadata string, skipping anything that
// is not an array of string arrays.
func metadata(v any) (md [][]string) {
	md = [][]string{}
	s, ok := v.(string)
	if !ok {
		return
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return
	}
	for _, e := range entries {
		var pair []string
		if json.Unmarshal(e, &pair) == nil {
			md = append(md, pair)
		}
	}
	return
}

// ValidateInvoiceAmount converts sats to millisats and checks them against
// the descriptor bounds. A zero minimum imposes no floor and a zero maximum
// no ceiling.
func ValidateInvoiceAmount(d *PayDescriptor, sats int64) (amount msat.T, err error) {
	if sats <= 0 || sats > math.MaxInt64/msat.PerSat {
		err = errorf.D("%d: %w", sats, ErrInvalidAmount)
		return
	}
	amount = msat.FromSats(uint64(sats))
	var minimum, maximum msat.T
	if d != nil {
		minimum, maximum = d.MinSendable, d.MaxSendable
	}
	if maximum == 0 {
		maximum = amount
	}
	maximum = max(minimum, maximum)
	if minimum > 0 && amount < minimum {
		err = &AmountError{Requested: amount, Limit: minimum, Low: true}
		amount = 0
		return
	}
	if maximum > 0 && amount > maximum {
		err = &AmountError{Requested: amount, Limit: maximum}
		amount = 0
		return
	}
	return
}
