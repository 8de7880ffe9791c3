package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Credential is one rate-limited API key. While held by a worker it is
// exclusive; the pool never hands the same credential to two callers.
type Credential struct {
	Key            string
	DisplayName    string
	RequestsPerMin int

	mu             sync.Mutex
	lastUsedAt     time.Time
	requestsIssued int64
}

// LastUsedAt returns when the credential last issued a request
func (c *Credential) LastUsedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

// RequestsIssued returns the lifetime request count for this credential
func (c *Credential) RequestsIssued() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsIssued
}

// minInterval is the spacing the provider's per-key limit requires
func (c *Credential) minInterval() time.Duration {
	if c.RequestsPerMin <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.RequestsPerMin)
}

// KeyPool arbitrates exclusive access to a set of interchangeable
// credentials. Throughput scales linearly with credential count because
// each key has an independent rate-limit window; the pool's only job is to
// stop two workers racing on the same key's timing budget.
type KeyPool struct {
	credentials []*Credential
	free        chan *Credential
	aggregate   *rate.Limiter
}

// NewKeyPool creates a pool over the given credentials. The aggregate
// limiter caps pool-wide throughput at the sum of per-key limits so a
// provider-side limit change can be enforced in one place.
func NewKeyPool(credentials []*Credential) *KeyPool {
	free := make(chan *Credential, len(credentials))
	perMinute := 0
	for _, cred := range credentials {
		free <- cred
		perMinute += cred.RequestsPerMin
	}

	var aggregate *rate.Limiter
	if perMinute > 0 {
		aggregate = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), len(credentials))
	}

	log.Info().
		Int("credentials", len(credentials)).
		Int("requests_per_minute", perMinute).
		Msg("API key pool initialised")

	return &KeyPool{
		credentials: credentials,
		free:        free,
		aggregate:   aggregate,
	}
}

// Size returns the number of credentials in the pool
func (p *KeyPool) Size() int {
	return len(p.credentials)
}

// Acquire blocks until a credential is free or the context ends
func (p *KeyPool) Acquire(ctx context.Context) (*Credential, error) {
	select {
	case cred := <-p.free:
		return cred, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("credential acquire cancelled: %w", ctx.Err())
	}
}

// Release returns a credential to the pool. Must be called exactly once per
// successful Acquire, on every path, or the key starves forever.
func (p *KeyPool) Release(cred *Credential) {
	select {
	case p.free <- cred:
	default:
		// Double release; dropping is safer than blocking a worker
		log.Error().Str("credential", cred.DisplayName).Msg("Credential released twice")
	}
}

// DelayFor computes the wait required before the next request on this
// credential: max(0, minInterval - time since last use).
func (p *KeyPool) DelayFor(cred *Credential) time.Duration {
	cred.mu.Lock()
	defer cred.mu.Unlock()

	interval := cred.minInterval()
	if interval == 0 || cred.lastUsedAt.IsZero() {
		return 0
	}
	elapsed := time.Since(cred.lastUsedAt)
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// Wait sleeps out the credential's required delay plus the aggregate cap,
// honouring context cancellation.
func (p *KeyPool) Wait(ctx context.Context, cred *Credential) error {
	if delay := p.DelayFor(cred); delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if p.aggregate != nil {
		if err := p.aggregate.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TrackUsage stamps a request against the credential's timing budget
func (p *KeyPool) TrackUsage(cred *Credential) {
	cred.mu.Lock()
	defer cred.mu.Unlock()
	cred.lastUsedAt = time.Now()
	cred.requestsIssued++
}

// TotalCapacity sums per-credential throughput into aggregate
// requests-per-minute and requests-per-hour figures for observability.
func (p *KeyPool) TotalCapacity() (perMinute, perHour int) {
	for _, cred := range p.credentials {
		perMinute += cred.RequestsPerMin
	}
	return perMinute, perMinute * 60
}
