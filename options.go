package cluster

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	logger         *slog.Logger
	metrics        *Metrics
	observers      Observers
	now            func() time.Time
	intn           func(n int) int
	connectTimeout time.Duration
}

func defaultPoolOptions() *poolOptions {
	return &poolOptions{
		now:  time.Now,
		intn: rand.IntN,
	}
}

// WithLogger overrides Config.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *poolOptions) {
		o.logger = logger
	}
}

// WithMetrics records pool activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *poolOptions) {
		o.metrics = m
	}
}

// WithObserver adds an observer for node state changes. May be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *poolOptions) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithClock sets the time source used for retry deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *poolOptions) {
		o.now = now
	}
}

// WithRandom sets the source of the randomized scan start. intn must return
// a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(o *poolOptions) {
		o.intn = intn
	}
}

// WithConnectTimeout overrides Config.ConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *poolOptions) {
		o.connectTimeout = d
	}
}
