// Command zapsplit sends one zap to a creator, splitting off the platform fee,
// paid through a Nostr Wallet Connect wallet.
package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	zapsplit_lol "zapsplit.lol"
	"zapsplit.lol/chk"
	"zapsplit.lol/config"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/hex"
	"zapsplit.lol/interrupt"
	"zapsplit.lol/keys"
	"zapsplit.lol/kind"
	"zapsplit.lol/lnurl"
	"zapsplit.lol/log"
	"zapsplit.lol/metrics"
	"zapsplit.lol/nwc"
	"zapsplit.lol/tags"
	"zapsplit.lol/ws"
	"zapsplit.lol/zap"
)

type runArgs struct {
	NWC     string `arg:"--nwc" help:"nostr+walletconnect URI of the paying wallet (default: NWC_URI)"`
	Address string `arg:"-a,--address,required" help:"lightning address or LNURL of the creator"`
	Amount  int64  `arg:"-n,--amount,required" help:"total zap in sats"`
	Fee     string `arg:"-f,--fee" help:"platform fee percent for this zap (default: PLATFORM_FEE_PERCENT)"`
	Comment string `arg:"-c,--comment" help:"comment sent with the zap"`
	EventID string `arg:"-e,--event-id" help:"hex id of the zapped event"`
	Author  string `arg:"--author" help:"hex or npub key of the zapped event's author"`
	Kind    int    `arg:"-k,--kind" default:"1" help:"kind of the zapped event"`
	DTag    string `arg:"-d,--d-tag" help:"d tag of the zapped event, for addressable events"`
}

func (runArgs) Version() string { return "zapsplit " + zapsplit_lol.Version }

var args runArgs

const (
	exitFailed  = 1
	exitPartial = 2
)

func main() {
	cfg := config.New()
	arg.MustParse(&args)
	ctx, cancel := context.Cancel(context.Bg())
	interrupt.AddHandler(cancel)
	code, err := run(ctx, cfg, args, os.Stdout)
	cancel()
	if chk.T(err) {
		log.E.Ln(err)
	}
	os.Exit(code)
}

func run(c context.T, cfg *config.C, args runArgs, out io.Writer) (code int, err error) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	g, ctx := errgroup.WithContext(c)
	var srv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		srv = &http.Server{Addr: cfg.MetricsListen, Handler: mux,
			ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.I.F("serving metrics on %s", cfg.MetricsListen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() (err error) {
		if srv != nil {
			defer func() { chk.E(srv.Close()) }()
		}
		code, err = zapOnce(ctx, cfg, args, m, out)
		return
	})
	if err = g.Wait(); err != nil && code == 0 {
		code = exitFailed
	}
	return
}

func zapOnce(c context.T, cfg *config.C, args runArgs, m *metrics.Metrics,
	out io.Writer) (code int, err error) {
	code = exitFailed
	var req zap.Request
	if req, err = request(cfg, args); err != nil {
		return
	}
	wallets := nwc.New(
		nwc.WithRequestTimeout(cfg.RequestTimeout),
		nwc.WithInfoTimeout(cfg.InfoTimeout),
		nwc.WithPreferModern(cfg.PreferModernEncryption),
		nwc.WithMetrics(m),
	)
	defer func() { chk.D(wallets.Reset()) }()
	deps := zap.Deps{
		Lnurl: lnurl.New(
			lnurl.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
			lnurl.WithCacheTTL(cfg.LnurlCacheTTL),
			lnurl.WithMetrics(m),
		),
		Wallets: zap.NWC(wallets),
		Platform: zap.NewPlatformAddress(
			zap.StaticAddress(cfg.PlatformLightningAddress)),
	}
	if cfg.ValidateReceipts {
		pool := ws.NewPool(c)
		defer pool.Close()
		deps.Validator = zap.NewReceiptValidator(pool, cfg.ReceiptTimeout)
	}
	splitter := zap.New(deps,
		zap.WithFeePercent(zap.ParsePercent(cfg.PlatformFeePercent)),
		zap.WithPlatformPubkey(cfg.PlatformPubkey),
		zap.WithZapRelays(cfg.ZapRelays...),
		zap.WithMetrics(m),
	)
	var res *zap.Result
	if res, err = splitter.SplitAndZap(c, req); err != nil {
		return
	}
	printResult(out, res)
	switch zap.Summarize(res.Receipts) {
	case zap.Success:
		code = 0
	case zap.Partial:
		code = exitPartial
	}
	return
}

// request builds the zap from the flags, falling back to the configuration.
func request(cfg *config.C, args runArgs) (req zap.Request, err error) {
	uri := strings.TrimSpace(args.NWC)
	if uri == "" {
		uri = cfg.NWCURI
	}
	if uri == "" {
		err = errorf.E("a wallet connect URI is required, set --nwc or NWC_URI")
		return
	}
	ev := &event.T{Kind: kind.T(args.Kind)}
	if args.EventID != "" {
		if !hex.Is32(args.EventID) {
			err = errorf.E("event id must be 64 hex characters")
			return
		}
		if ev.ID, err = hex.Dec(strings.ToLower(args.EventID)); chk.E(err) {
			return
		}
	}
	if args.Author != "" {
		if ev.Pubkey, err = keys.DecodePublicKey(args.Author); err != nil {
			return
		}
	}
	if args.DTag != "" {
		ev.Tags = tags.New().Append("d", args.DTag)
	}
	req = zap.Request{
		Target:     &zap.Target{Event: ev, LightningAddress: args.Address},
		AmountSats: args.Amount,
		Comment:    args.Comment,
		Wallet:     nwc.Settings{URI: uri},
	}
	if strings.TrimSpace(args.Fee) != "" {
		fee := zap.ParsePercent(args.Fee)
		req.FeeOverride = &fee
	}
	return
}

func printResult(w io.Writer, res *zap.Result) {
	_, _ = fmt.Fprintf(w, "zapped %d sats: creator %d, platform %d (%v%%)\n",
		res.Total, res.Creator, res.Platform, res.FeePercent)
	for _, r := range res.Receipts {
		detail := ""
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case r.Payment != nil:
			detail = "preimage " + r.Payment.Preimage
		}
		_, _ = fmt.Fprintf(w, "  %-8s %8d sats  %-7s %s  %s\n", r.Recipient,
			r.Amount, r.Status, r.Address, detail)
		if r.Validation != nil {
			line := "    receipt " + string(r.Validation.Status)
			if r.Validation.Reason != "" {
				line += ": " + r.Validation.Reason
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
	if res.Retry != nil {
		var parts []string
		for _, sh := range res.Retry.Shares {
			parts = append(parts, fmt.Sprintf("%s %d sats", sh.Recipient, sh.Amount))
		}
		_, _ = fmt.Fprintf(w, "failed share(s) to retry: %s\n", strings.Join(parts, ", "))
	}
}
