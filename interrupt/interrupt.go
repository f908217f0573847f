// Package interrupt runs registered handlers, most recent first, once the
// process is asked to stop by a signal or by Request.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"zapsplit.lol/log"
)

var (
	mx       sync.Mutex
	handlers []func()
	listen   sync.Once
	stop     sync.Once
	done     = make(chan struct{})
)

// AddHandler registers h to run on shutdown and starts listening for
// signals.
func AddHandler(h func()) {
	mx.Lock()
	handlers = append(handlers, h)
	mx.Unlock()
	listen.Do(func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case s := <-sig:
				log.I.F("received %s, shutting down", s)
				Request()
			case <-done:
			}
			signal.Stop(sig)
		}()
	})
}

// Request runs the handlers as if a signal had arrived. Only the first call
// has any effect.
func Request() {
	stop.Do(func() {
		mx.Lock()
		hs := handlers
		mx.Unlock()
		for i := len(hs) - 1; i >= 0; i-- {
			hs[i]()
		}
		close(done)
	})
}

// Done is closed after the handlers have run.
func Done() <-chan struct{} { return done }
