package mirrorfetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// CircuitBreakerFetcher wraps a Fetcher with one circuit breaker per mirror
// host, so a single dead mirror cannot stall every ReloadLibraryDependencies
// download phase behind repeated timeouts.
type CircuitBreakerFetcher struct {
	fetcher  *Fetcher
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewCircuitBreakerFetcher wraps f with per-mirror circuit breaking.
func NewCircuitBreakerFetcher(f *Fetcher) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{fetcher: f, breakers: make(map[string]*circuit.Breaker)}
}

func (cbf *CircuitBreakerFetcher) getBreaker(mirror string) *circuit.Breaker {
	cbf.mu.RLock()
	b, ok := cbf.breakers[mirror]
	cbf.mu.RUnlock()
	if ok {
		return b
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()
	if b, ok := cbf.breakers[mirror]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	cbf.breakers[mirror] = b
	return b
}

// Fetch wraps Fetcher.Fetch with circuit breaker logic, keyed by the
// request URL's host.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL string) (*Artifact, error) {
	mirror := mirrorHost(fetchURL)
	breaker := cbf.getBreaker(mirror)

	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for mirror %s: %w", mirror, ErrUpstreamDown)
	}

	var artifact *Artifact
	err := breaker.Call(func() error {
		var fetchErr error
		artifact, fetchErr = cbf.fetcher.Fetch(ctx, fetchURL)
		return fetchErr
	}, 0)
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func mirrorHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// BreakerState returns "open"/"closed" per mirror host, for health checks.
func (cbf *CircuitBreakerFetcher) BreakerState() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()
	states := make(map[string]string, len(cbf.breakers))
	for mirror, b := range cbf.breakers {
		if b.Tripped() {
			states[mirror] = "open"
		} else {
			states[mirror] = "closed"
		}
	}
	return states
}
