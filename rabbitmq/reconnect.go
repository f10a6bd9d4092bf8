package rabbitmq

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectPolicy yields the delay before each reconnect attempt.
type reconnectPolicy struct {
	b     backoff.BackOff
	limit time.Duration
}

func newReconnectPolicy(cfg Config) *reconnectPolicy {
	base := cfg.ReconnectBackoffTime
	if base <= 0 {
		base = DefaultBackoffTime
	}
	limit := cfg.ReconnectExponentialLimit
	if limit <= 0 {
		limit = DefaultExponentialLimit
	}

	p := &reconnectPolicy{limit: limit}
	switch cfg.ReconnectStrategy {
	case ReconnectExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = base
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxInterval = limit
		eb.MaxElapsedTime = 0
		eb.Reset()
		p.b = eb
	default:
		p.b = backoff.NewConstantBackOff(base)
		p.limit = base
	}
	return p
}

// next returns the delay for the upcoming attempt.
func (p *reconnectPolicy) next() time.Duration {
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return p.limit
	}
	return d
}

// reset restarts the schedule, after a successful handshake.
func (p *reconnectPolicy) reset() {
	p.b.Reset()
}
