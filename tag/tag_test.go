package tag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tg := New("relays", "wss://a.example", "wss://b\n.example")
	b := tg.Marshal(nil)
	var out []string
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, []string(tg), out)
	require.Equal(t, "relays", tg.Key())
	require.Equal(t, "wss://a.example", tg.Value())
	require.Equal(t, "", New().Key())
	require.Equal(t, "", New("p").Value())
	require.Equal(t, "[]", string(New().Marshal(nil)))
}
