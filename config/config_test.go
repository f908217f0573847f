package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "zapsplit", c.AppName)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "0", c.PlatformFeePercent)
	assert.Equal(t, 25*time.Second, c.RequestTimeout)
	assert.Equal(t, 7500*time.Millisecond, c.InfoTimeout)
	assert.Equal(t, 5*time.Minute, c.LnurlCacheTTL)
	assert.Equal(t, 10*time.Second, c.HTTPTimeout)
	assert.False(t, c.PreferModernEncryption)
	assert.Empty(t, c.ZapRelays)
	assert.False(t, c.ValidateReceipts)
	assert.Equal(t, 10*time.Second, c.ReceiptTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PLATFORM_FEE_PERCENT", "10%")
	t.Setenv("PLATFORM_LIGHTNING_ADDRESS", "tips@platform.example")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("PREFER_MODERN_ENCRYPTION", "true")
	t.Setenv("ZAP_RELAYS", "wss://a.example,wss://b.example")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10%", c.PlatformFeePercent)
	assert.Equal(t, "tips@platform.example", c.PlatformLightningAddress)
	assert.Equal(t, 3*time.Second, c.RequestTimeout)
	assert.True(t, c.PreferModernEncryption)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, c.ZapRelays)
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "0s")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("REQUEST_TIMEOUT", "1s")
	t.Setenv("RECEIPT_TIMEOUT", "-1s")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("RECEIPT_TIMEOUT", "1s")
	t.Setenv("LNURL_CACHE_TTL", "-1m")
	_, err = Load()
	assert.Error(t, err)
}

func TestPrintHelp(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	var buf bytes.Buffer
	PrintHelp(c, &buf)
	assert.Contains(t, buf.String(), "NWC_URI")
	assert.Contains(t, buf.String(), "PLATFORM_FEE_PERCENT")
}
