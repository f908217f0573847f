package nwc

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"zapsplit.lol/errorf"
	"zapsplit.lol/hex"
	"zapsplit.lol/keys"
	"zapsplit.lol/msat"
)

// Scheme is the canonical wallet connect URI scheme.
const Scheme = "nostr+walletconnect"

// Schemes are the accepted URI schemes, the canonical one first.
var Schemes = []string{Scheme, "walletconnect", "nwc"}

// budgetKeys are the query keys that may carry the allowance, in millisats.
var budgetKeys = []string{"budget", "budget_msat", "budget_msats"}

const renewalPrefix = "budget_renewal"

// URI is a parsed wallet connect URI.
type URI struct {
	WalletPubkey string
	ClientPubkey string
	Relays       []string
	Secret       string
	// HasBudget is false for an unmetered connection.
	HasBudget bool
	Budget    msat.T
	// Renewal holds the budget_renewal* parameters.
	Renewal map[string]string
	// Params are the remaining query parameters, passed through untouched.
	Params url.Values
	// Normalized identifies the connection. Renewal parameters are not part
	// of it.
	Normalized string
}

// ParseURI parses and validates a wallet connect URI.
func ParseURI(s string) (u *URI, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		err = errorf.D("wallet URI is required: %w", ErrInvalidURI)
		return
	}
	var rest string
	for _, scheme := range Schemes {
		prefix := scheme + "://"
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			rest = s[len(prefix):]
			break
		}
	}
	if rest == "" {
		err = errorf.D("unsupported wallet URI scheme: %w", ErrInvalidURI)
		return
	}
	id, query, _ := strings.Cut(rest, "?")
	var pk []byte
	if pk, err = keys.DecodePublicKey(strings.TrimSuffix(id, "/")); err != nil ||
		len(pk) != 32 {
		err = errorf.D("wallet pubkey in the URI is invalid: %w", ErrInvalidURI)
		return
	}
	var q url.Values
	if q, err = url.ParseQuery(query); err != nil {
		err = errorf.D("wallet URI query: %v: %w", err, ErrInvalidURI)
		return
	}
	u = &URI{
		WalletPubkey: hex.Enc(pk),
		Renewal:      map[string]string{},
		Params:       url.Values{},
	}
	for _, r := range append(q["relay"], q["r"]...) {
		if r = strings.TrimSpace(r); r != "" && !slices.Contains(u.Relays, r) {
			u.Relays = append(u.Relays, r)
		}
	}
	if len(u.Relays) == 0 {
		err = errorf.D("wallet URI is missing a relay parameter: %w", ErrInvalidURI)
		u = nil
		return
	}
	secrets := append(q["secret"], q["s"]...)
	if len(secrets) != 1 || !hex.Is32(strings.TrimSpace(secrets[0])) {
		err = errorf.D("wallet URI secret must be a 64 character hex string: %w",
			ErrInvalidURI)
		u = nil
		return
	}
	u.Secret = strings.ToLower(strings.TrimSpace(secrets[0]))
	var sk, cpk []byte
	if sk, err = keys.DecodeSecretKey(u.Secret); err == nil {
		cpk, err = keys.SecretToPubKeyBytes(sk)
	}
	if err != nil {
		err = errorf.D("wallet URI secret is not a valid key: %v: %w", err,
			ErrInvalidURI)
		u = nil
		return
	}
	u.ClientPubkey = hex.Enc(cpk)
	for _, k := range budgetKeys {
		if u.HasBudget {
			break
		}
		for _, v := range q[k] {
			if n, perr := strconv.ParseUint(strings.TrimSpace(v), 10, 64); perr == nil {
				u.Budget, u.HasBudget = msat.T(n), true
				break
			}
		}
	}
	for k, vv := range q {
		switch {
		case k == "relay" || k == "r" || k == "secret" || k == "s" ||
			slices.Contains(budgetKeys, k):
		case strings.HasPrefix(k, renewalPrefix):
			if len(vv) > 0 {
				u.Renewal[k] = vv[0]
			}
		default:
			u.Params[k] = vv
		}
	}
	u.Normalized = u.normalize()
	return
}

func (u *URI) normalize() string {
	v := url.Values{}
	maps.Copy(v, u.Params)
	v["relay"] = u.Relays
	v.Set("secret", u.Secret)
	if u.HasBudget {
		v.Set("budget", u.Budget.String())
	}
	return Scheme + "://" + u.WalletPubkey + "?" + v.Encode()
}

// String returns the normalized URI.
func (u *URI) String() string { return u.Normalized }
