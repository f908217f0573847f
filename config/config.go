// Package config reads the zapsplit configuration from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"go-simpler.org/env"

	zapsplit_lol "zapsplit.lol"
	"zapsplit.lol/chk"
	"zapsplit.lol/config/keyvalue"
	"zapsplit.lol/errorf"
	"zapsplit.lol/lol"
)

// C is the configuration of zapsplit. The wallet URI carries a secret, so it
// is best kept in the environment rather than on the command line.
type C struct {
	AppName                  string        `env:"APP_NAME" default:"zapsplit"`
	LogLevel                 string        `env:"LOG_LEVEL" default:"info" usage:"fatal, error, warn, info, debug or trace"`
	NWCURI                   string        `env:"NWC_URI" usage:"nostr+walletconnect URI of the paying wallet"`
	PlatformFeePercent       string        `env:"PLATFORM_FEE_PERCENT" default:"0" usage:"share of each zap paid to the platform, 0-100"`
	PlatformLightningAddress string        `env:"PLATFORM_LIGHTNING_ADDRESS" usage:"lightning address or LNURL the platform share is paid to"`
	PlatformPubkey           string        `env:"PLATFORM_PUBKEY" usage:"hex or npub key platform zap requests are addressed to"`
	RequestTimeout           time.Duration `env:"REQUEST_TIMEOUT" default:"25s" usage:"how long a wallet request waits for its response"`
	InfoTimeout              time.Duration `env:"INFO_TIMEOUT" default:"7.5s" usage:"how long to wait for the wallet info event"`
	LnurlCacheTTL            time.Duration `env:"LNURL_CACHE_TTL" default:"5m" usage:"how long pay descriptors are cached, 0 disables"`
	HTTPTimeout              time.Duration `env:"HTTP_TIMEOUT" default:"10s" usage:"timeout of LNURL HTTP requests"`
	PreferModernEncryption   bool          `env:"PREFER_MODERN_ENCRYPTION" default:"false" usage:"try nip44_v2 first when the wallet does not advertise its encryption"`
	ZapRelays                []string      `env:"ZAP_RELAYS" usage:"comma separated relays named in zap requests when the wallet lists none"`
	ValidateReceipts         bool          `env:"VALIDATE_RECEIPTS" default:"false" usage:"look up the zap receipt of each paid share on the zap request's relays"`
	ReceiptTimeout           time.Duration `env:"RECEIPT_TIMEOUT" default:"10s" usage:"how long to wait for relays when looking up a zap receipt"`
	MetricsListen            string        `env:"METRICS_LISTEN" usage:"address to serve prometheus /metrics on, empty disables"`
}

// Load reads the configuration from the environment.
func Load() (c *C, err error) {
	c = &C{}
	if err = env.Load(c, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	if c.RequestTimeout <= 0 || c.InfoTimeout <= 0 || c.HTTPTimeout <= 0 ||
		c.ReceiptTimeout <= 0 {
		err = errorf.E("timeouts must be positive")
		return
	}
	if c.LnurlCacheTTL < 0 {
		err = errorf.E("LNURL_CACHE_TTL must not be negative")
		return
	}
	return
}

// New loads the configuration and sets the log level. When the only argument
// is one of the commands help, version or env it is run and the process
// exits.
func New() (c *C) {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		fmt.Println(zapsplit_lol.Version)
		os.Exit(0)
	}
	var err error
	if c, err = Load(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) == 2 {
		switch os.Args[1] {
		case "help":
			PrintHelp(c, os.Stdout)
			os.Exit(0)
		case "env":
			keyvalue.PrintEnv(*c, os.Stdout)
			os.Exit(0)
		}
	}
	lol.SetLogLevel(c.LogLevel)
	return
}

// PrintHelp describes the environment variables and commands.
func PrintHelp(c *C, w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nenvironment variables that configure %s\n\n", c.AppName)
	env.Usage(c, w, nil)
	_, _ = fmt.Fprintf(w, `
commands:

  - print this help message

      %s help

  - print version info

      %s version

  - print environment variables as a shell script that can be edited to set the configuration

      %s env

`, os.Args[0], os.Args[0], os.Args[0])
}
