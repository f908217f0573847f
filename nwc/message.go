package nwc

import (
	"encoding/json"
	"math"
	"strings"

	"zapsplit.lol/errorf"
	"zapsplit.lol/msat"
	"zapsplit.lol/text"
)

// Params is the params object of a request, able to append itself as JSON.
type Params interface {
	Marshal(dst []byte) (b []byte)
}

// Request is the decrypted content of a wallet request event.
type Request struct {
	ID     string
	Method string
	Params Params
}

// Marshal appends the JSON form of the request to dst.
func (r Request) Marshal(dst []byte) (b []byte) {
	// open parentheses
	dst = append(dst, '{')
	// id
	dst = text.JSONKey(dst, Keys.ID)
	dst = text.AppendQuote(dst, []byte(r.ID), text.NostrEscape)
	dst = append(dst, ',')
	// method
	dst = text.JSONKey(dst, Keys.Method)
	dst = text.AppendQuote(dst, []byte(r.Method), text.NostrEscape)
	dst = append(dst, ',')
	// params
	dst = text.JSONKey(dst, Keys.Params)
	if r.Params == nil {
		dst = append(dst, '{', '}')
	} else {
		dst = r.Params.Marshal(dst)
	}
	// close parentheses
	dst = append(dst, '}')
	b = dst
	return
}

// PayInvoiceParams are the params of pay_invoice.
type PayInvoiceParams struct {
	Invoice    string
	Amount     msat.T // optional, omitted if zero
	ZapRequest string // optional
	Lnurl      string // optional
}

// Marshal appends the JSON form of the params to dst.
func (p *PayInvoiceParams) Marshal(dst []byte) (b []byte) {
	dst = append(dst, '{')
	dst = text.JSONKey(dst, Keys.Invoice)
	dst = text.AppendQuote(dst, []byte(p.Invoice), text.NostrEscape)
	// Amount - optional (omit if zero)
	if p.Amount > 0 {
		dst = append(dst, ',')
		dst = text.JSONKey(dst, Keys.Amount)
		dst = append(dst, p.Amount.String()...)
	}
	if p.ZapRequest != "" {
		dst = append(dst, ',')
		dst = text.JSONKey(dst, Keys.ZapRequest)
		dst = text.AppendQuote(dst, []byte(p.ZapRequest), text.NostrEscape)
	}
	if p.Lnurl != "" {
		dst = append(dst, ',')
		dst = text.JSONKey(dst, Keys.Lnurl)
		dst = text.AppendQuote(dst, []byte(p.Lnurl), text.NostrEscape)
	}
	dst = append(dst, '}')
	b = dst
	return
}

// PaymentOptions are the optional parts of a pay_invoice request.
type PaymentOptions struct {
	AmountSats int64
	ZapRequest string
	Lnurl      string
}

// BuildPayInvoiceParams assembles pay_invoice params, leaving out the
// optional fields that are empty.
func BuildPayInvoiceParams(invoice string, o PaymentOptions) (p *PayInvoiceParams,
	err error) {
	if invoice = strings.TrimSpace(invoice); invoice == "" {
		err = errorf.E("an invoice is required to request payment")
		return
	}
	p = &PayInvoiceParams{
		Invoice: invoice,
		Lnurl:   strings.TrimSpace(o.Lnurl),
	}
	if strings.TrimSpace(o.ZapRequest) != "" {
		p.ZapRequest = o.ZapRequest
	}
	if o.AmountSats > 0 && o.AmountSats <= math.MaxInt64/msat.PerSat {
		p.Amount = msat.FromSats(uint64(o.AmountSats))
	}
	return
}

// Response is the decrypted content of a wallet response event.
type Response struct {
	ID         string          `json:"id,omitempty"`
	ResultType string          `json:"result_type,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WalletError    `json:"error,omitempty"`
}

// ParseResponse decodes a decrypted response payload.
func ParseResponse(b []byte) (r *Response, err error) {
	r = &Response{}
	if err = json.Unmarshal(b, r); err != nil {
		err = errorf.D("malformed wallet response: %w", err)
		r = nil
		return
	}
	return
}

// Decode unmarshals the result object into v.
func (r *Response) Decode(v any) (err error) {
	if len(r.Result) == 0 {
		return
	}
	if err = json.Unmarshal(r.Result, v); err != nil {
		err = errorf.D("malformed %s result: %w", r.ResultType, err)
	}
	return
}

// PayInvoiceResult is the result of pay_invoice.
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
	FeesPaid msat.T `json:"fees_paid,omitempty"`
}

// GetInfoResult is the result of get_info.
type GetInfoResult struct {
	Alias         string   `json:"alias,omitempty"`
	Color         string   `json:"color,omitempty"`
	Pubkey        string   `json:"pubkey,omitempty"`
	Network       string   `json:"network,omitempty"`
	BlockHeight   uint64   `json:"block_height,omitempty"`
	BlockHash     string   `json:"block_hash,omitempty"`
	Methods       []string `json:"methods,omitempty"`
	Notifications []string `json:"notifications,omitempty"`
}

// GetBalanceResult is the result of get_balance.
type GetBalanceResult struct {
	Balance msat.T `json:"balance"`
}
