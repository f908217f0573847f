package envelopes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/kind"
	"zapsplit.lol/p256k"
	"zapsplit.lol/tags"
)

func TestParseRoundTrip(t *testing.T) {
	var s p256k.Signer
	require.NoError(t, s.Generate())
	ev := event.New(kind.WalletResponse, "cipher", tags.New().Append("p", "aa"))
	require.NoError(t, ev.Sign(&s))
	for _, en := range []I{
		&Event{Subscription: "sub", Event: ev},
		&OK{EventID: ev.IDString(), OK: false, Reason: "blocked: rate limited"},
		&OK{EventID: ev.IDString(), OK: true},
		&EOSE{Subscription: "sub"},
		&Closed{Subscription: "sub", Reason: "auth-required: x"},
		&Notice{Message: "hello \"world\""},
		&Auth{Challenge: "challenge"},
	} {
		got, err := Parse(en.Marshal(nil))
		require.NoError(t, err, en.Label())
		require.Equal(t, en.Label(), got.Label())
		require.Equal(t, string(en.Marshal(nil)), string(got.Marshal(nil)))
	}
}

func TestClientMessages(t *testing.T) {
	req := &Req{Subscription: "s1", Filters: []*filter.T{
		filter.New([]kind.T{kind.WalletInfo}, "aa").WithLimit(1)}}
	var out []json.RawMessage
	require.NoError(t, json.Unmarshal(req.Marshal(nil), &out))
	require.Len(t, out, 3)
	require.JSONEq(t, `{"kinds":[13194],"authors":["aa"],"limit":1}`,
		string(out[2]))
	require.Equal(t, `["CLOSE","s1"]`, string((&Close{Subscription: "s1"}).
		Marshal(nil)))
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{`{}`, `["EOSE"]`, `["WHAT","x"]`, `["EVENT","s"]`,
		`["OK","id"]`} {
		_, err := Parse([]byte(s))
		require.Error(t, err, s)
	}
}
