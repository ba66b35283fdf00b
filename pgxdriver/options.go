package pgxdriver

import "time"

type options struct {
	maxConns          int32
	minConns          int32
	maxConnLifetime   time.Duration
	healthCheckPeriod time.Duration
	connectTimeout    time.Duration
	pingTimeout       time.Duration
}

func defaultOptions() options {
	return options{
		maxConns:          10,
		maxConnLifetime:   30 * time.Minute,
		healthCheckPeriod: time.Minute,
		connectTimeout:    5 * time.Second,
		pingTimeout:       2 * time.Second,
	}
}

// Option configures a Driver.
type Option func(*options)

// WithMaxConns caps the connections held per node.
func WithMaxConns(n int32) Option {
	return func(o *options) {
		o.maxConns = n
	}
}

// WithMinConns keeps at least n connections open per node.
func WithMinConns(n int32) Option {
	return func(o *options) {
		o.minConns = n
	}
}

// WithMaxConnLifetime recycles connections older than d.
func WithMaxConnLifetime(d time.Duration) Option {
	return func(o *options) {
		o.maxConnLifetime = d
	}
}

// WithConnectTimeout bounds establishing a single connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithPingTimeout bounds the liveness and repair pings.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pingTimeout = d
	}
}
