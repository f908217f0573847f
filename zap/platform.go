package zap

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/log"
)

// Loader fetches the platform's lightning address from wherever it is kept.
type Loader func(c context.T) (address string, err error)

// StaticAddress is a Loader for an address fixed in configuration.
func StaticAddress(address string) Loader {
	return func(context.T) (string, error) { return address, nil }
}

// PlatformAddress caches the platform lightning address, loading it on first
// use and again when asked to refresh.
type PlatformAddress struct {
	load    Loader
	mx      sync.Mutex
	address string
	loading singleflight.Group
}

// NewPlatformAddress creates a cache over load.
func NewPlatformAddress(load Loader) *PlatformAddress {
	return &PlatformAddress{load: load}
}

// Address returns the cached address, loading it when there is none or
// forceRefresh is set. An empty address is not cached.
func (p *PlatformAddress) Address(c context.T, forceRefresh bool) (address string,
	err error) {
	if !forceRefresh {
		p.mx.Lock()
		address = p.address
		p.mx.Unlock()
		if address != "" {
			return
		}
	}
	if p.load == nil {
		err = ErrPlatformAddressUnavailable
		return
	}
	v, err, _ := p.loading.Do("", func() (any, error) {
		a, err := p.load(c)
		if err != nil {
			return "", err
		}
		a = strings.TrimSpace(a)
		p.mx.Lock()
		p.address = a
		p.mx.Unlock()
		if a != "" {
			log.D.F("platform lightning address is %s", a)
		}
		return a, nil
	})
	if err != nil {
		err = errorf.D("%w: %w", ErrPlatformAddressUnavailable, err)
		return
	}
	address = v.(string)
	return
}
