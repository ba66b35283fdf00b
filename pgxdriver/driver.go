// Package pgxdriver implements cluster.Driver for PostgreSQL on top of
// pgx/v5. Each node gets its own pgxpool.Pool.
package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPort is used when a node has no port.
const DefaultPort = 5432

// SQLSTATE codes after which the server refuses work.
const (
	adminShutdown      = "57P01"
	crashShutdown      = "57P02"
	cannotConnectNow   = "57P03"
	connectionClass    = "08"
	tooManyConnections = "53300"
)

type Driver struct {
	opts options
}

// New creates a PostgreSQL driver.
func New(opts ...Option) *Driver {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Driver{opts: o}
}

// Open creates a pool for cfg and pings it.
func (d *Driver) Open(ctx context.Context, cfg cluster.NodeConfig) (cluster.DriverConn, error) {
	pc, err := d.poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool for %s: %w", cfg.Name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr(), err)
	}
	return &Conn{pool: pool, pingTimeout: d.opts.pingTimeout}, nil
}

func (d *Driver) Classify(err error) cluster.ErrorKind {
	return Classify(err)
}

// Classify is the PostgreSQL error table used by Driver.
func Classify(err error) cluster.ErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, connectionClass):
			return cluster.KindConnectionLost
		case pgErr.Code == adminShutdown, pgErr.Code == crashShutdown, pgErr.Code == cannotConnectNow,
			pgErr.Code == tooManyConnections:
			return cluster.KindNodeUnavailable
		default:
			return cluster.KindOther
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return cluster.KindConnectionLost
	}
	// pgconn wraps deadlines and cancellations of the caller's context as
	// timeouts; those say nothing about the server.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return cluster.KindOther
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return cluster.KindConnectionLost
	}
	return cluster.KindOther
}

func (d *Driver) poolConfig(cfg cluster.NodeConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pc.MaxConns = d.opts.maxConns
	pc.MinConns = d.opts.minConns
	pc.MaxConnLifetime = d.opts.maxConnLifetime
	pc.HealthCheckPeriod = d.opts.healthCheckPeriod

	cc := pc.ConnConfig
	cc.Host = cfg.Host
	if cc.Host == "" {
		// pgx dials a unix socket when the host is a directory path.
		cc.Host = socketDir(cfg.Socket)
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	cc.Port = uint16(port)
	cc.User = cfg.Username
	cc.Password = cfg.Password
	cc.Database = cfg.Database
	cc.ConnectTimeout = d.opts.connectTimeout
	cc.Fallbacks = nil

	for k, v := range cfg.Params {
		cc.RuntimeParams[k] = v
	}

	cc.TLSConfig = nil
	if cfg.TLS.Enabled() {
		tlsCfg, err := cfg.TLS.ClientConfig(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("tls config for %s: %w", cfg.Name, err)
		}
		cc.TLSConfig = tlsCfg
	}
	return pc, nil
}

// socketDir turns /var/run/postgresql/.s.PGSQL.5432 into /var/run/postgresql.
func socketDir(socket string) string {
	if i := strings.LastIndex(socket, "/.s.PGSQL."); i >= 0 {
		return socket[:i]
	}
	return socket
}

var _ cluster.Driver = (*Driver)(nil)

// Conn is the live handle to one node.
type Conn struct {
	pool        *pgxpool.Pool
	pingTimeout time.Duration
}

// Pool exposes the underlying pgx pool.
func (c *Conn) Pool() *pgxpool.Pool {
	return c.pool
}

func (c *Conn) Execute(ctx context.Context, op cluster.Operation) (cluster.Result, error) {
	switch op.Kind {
	case cluster.OpExec:
		tag, err := c.pool.Exec(ctx, op.Statement, op.Args...)
		if err != nil {
			return cluster.Result{}, err
		}
		return cluster.Result{RowsAffected: tag.RowsAffected()}, nil
	case cluster.OpQuery:
		rows, err := c.pool.Query(ctx, op.Statement, op.Args...)
		if err != nil {
			return cluster.Result{}, err
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		res := cluster.Result{Columns: make([]string, len(fields))}
		for i, f := range fields {
			res.Columns[i] = f.Name
		}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return cluster.Result{}, err
			}
			res.Rows = append(res.Rows, values)
		}
		if err := rows.Err(); err != nil {
			return cluster.Result{}, err
		}
		res.RowsAffected = rows.CommandTag().RowsAffected()
		return res, nil
	default:
		return cluster.Result{}, fmt.Errorf("unsupported operation kind %s", op.Kind)
	}
}

// Active pings the node. Errors are reported as false.
func (c *Conn) Active(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return c.pool.Ping(ctx) == nil
}

// Reconnect pings the node; the pool replaces dead connections itself.
func (c *Conn) Reconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return c.pool.Ping(ctx)
}

func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

var _ cluster.DriverConn = (*Conn)(nil)
