package mysqldriver

import "time"

type options struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	dialTimeout     time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	pingTimeout     time.Duration
}

func defaultOptions() options {
	return options{
		maxOpenConns:    10,
		maxIdleConns:    2,
		connMaxLifetime: 5 * time.Minute,
		dialTimeout:     5 * time.Second,
		pingTimeout:     2 * time.Second,
	}
}

// Option configures a Driver.
type Option func(*options)

// WithMaxOpenConns caps the connections held per node.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// WithMaxIdleConns sets how many idle connections are kept per node.
func WithMaxIdleConns(n int) Option {
	return func(o *options) {
		o.maxIdleConns = n
	}
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) {
		o.connMaxLifetime = d
	}
}

// WithDialTimeout bounds establishing a TCP or socket connection.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithIOTimeouts sets the read and write timeouts of every connection.
func WithIOTimeouts(read, write time.Duration) Option {
	return func(o *options) {
		o.readTimeout = read
		o.writeTimeout = write
	}
}

// WithPingTimeout bounds the liveness and repair pings.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pingTimeout = d
	}
}
