// Package mysqldriver implements cluster.Driver for MySQL and MySQL Cluster
// (NDB) SQL nodes on top of database/sql and go-sql-driver/mysql.
package mysqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// DefaultUsername is used when a node has no username.
const DefaultUsername = "root"

// Server error numbers that say something about node health.
const (
	erServerShutdown    = 1053
	erAbortingConn      = 1152
	erNetReadError      = 1158
	erNetReadInterrupt  = 1159
	erNetErrorOnWrite   = 1160
	erNetWriteInterrupt = 1161
	erConCount          = 1040
	erGetErrmsg         = 1296
	erGetTemporaryErr   = 1297
	crServerGoneError   = 2006
	crServerLost        = 2013
)

// Driver opens one *sql.DB per node.
type Driver struct {
	opts options

	// tlsPrefix scopes TLS registrations to this driver in the
	// process-wide go-sql-driver registry.
	tlsPrefix string

	mu         sync.Mutex
	tlsConfigs map[string]struct{}
}

// New creates a MySQL driver.
func New(opts ...Option) *Driver {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Driver{
		opts:       o,
		tlsPrefix:  "dbcluster-" + uuid.NewString() + "-",
		tlsConfigs: make(map[string]struct{}),
	}
}

// Open builds a connector for cfg, pings it and returns the live handle.
func (d *Driver) Open(ctx context.Context, cfg cluster.NodeConfig) (cluster.DriverConn, error) {
	mc, err := d.mysqlConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector for %s: %w", cfg.Name, err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(d.opts.maxOpenConns)
	db.SetMaxIdleConns(d.opts.maxIdleConns)
	db.SetConnMaxLifetime(d.opts.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr(), err)
	}
	return &Conn{db: db, pingTimeout: d.opts.pingTimeout}, nil
}

// Classify maps MySQL client and server errors to cluster error kinds.
func (d *Driver) Classify(err error) cluster.ErrorKind {
	return Classify(err)
}

// Classify is the MySQL error table used by Driver.
func Classify(err error) cluster.ErrorKind {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return cluster.KindConnectionLost
	}

	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return cluster.KindOther
	}
	switch me.Number {
	case erServerShutdown, erAbortingConn,
		erNetReadError, erNetReadInterrupt, erNetErrorOnWrite, erNetWriteInterrupt,
		crServerGoneError, crServerLost:
		return cluster.KindConnectionLost
	case erConCount, erGetErrmsg, erGetTemporaryErr:
		return cluster.KindNodeUnavailable
	default:
		return cluster.KindOther
	}
}

func (d *Driver) mysqlConfig(cfg cluster.NodeConfig) (*mysql.Config, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	if mc.User == "" {
		mc.User = DefaultUsername
	}
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.Timeout = d.opts.dialTimeout
	mc.ReadTimeout = d.opts.readTimeout
	mc.WriteTimeout = d.opts.writeTimeout
	mc.ParseTime = true

	if cfg.Host == "" && cfg.Socket != "" {
		mc.Net = "unix"
		mc.Addr = cfg.Socket
	} else {
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = cluster.NodeConfig{Host: cfg.Host, Port: port}.Addr()
	}

	if len(cfg.Params) > 0 {
		mc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}

	if cfg.TLS.Enabled() {
		key, err := d.registerTLS(cfg)
		if err != nil {
			return nil, err
		}
		mc.TLSConfig = key
	}
	return mc, nil
}

// registerTLS registers the node's TLS material with go-sql-driver/mysql
// under a key unique to this driver and node.
func (d *Driver) registerTLS(cfg cluster.NodeConfig) (string, error) {
	tlsCfg, err := cfg.TLS.ClientConfig(cfg.Host)
	if err != nil {
		return "", fmt.Errorf("tls config for %s: %w", cfg.Name, err)
	}
	key := d.tlsPrefix + cfg.Name

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := mysql.RegisterTLSConfig(key, tlsCfg); err != nil {
		return "", fmt.Errorf("register tls config for %s: %w", cfg.Name, err)
	}
	d.tlsConfigs[key] = struct{}{}
	return key, nil
}

// Close deregisters TLS configs registered by this driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.tlsConfigs {
		mysql.DeregisterTLSConfig(key)
	}
	d.tlsConfigs = make(map[string]struct{})
}

var _ cluster.Driver = (*Driver)(nil)

// Conn is the live handle to one node.
type Conn struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// DB exposes the underlying handle for callers that need database/sql directly.
func (c *Conn) DB() *sql.DB {
	return c.db
}

func (c *Conn) Execute(ctx context.Context, op cluster.Operation) (cluster.Result, error) {
	switch op.Kind {
	case cluster.OpExec:
		res, err := c.db.ExecContext(ctx, op.Statement, op.Args...)
		if err != nil {
			return cluster.Result{}, err
		}
		affected, _ := res.RowsAffected()
		lastID, _ := res.LastInsertId()
		return cluster.Result{RowsAffected: affected, LastInsertID: lastID}, nil
	case cluster.OpQuery:
		rows, err := c.db.QueryContext(ctx, op.Statement, op.Args...)
		if err != nil {
			return cluster.Result{}, err
		}
		return scanRows(rows)
	default:
		return cluster.Result{}, fmt.Errorf("unsupported operation kind %s", op.Kind)
	}
}

// Active pings the node. Errors are reported as false.
func (c *Conn) Active(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return c.db.PingContext(ctx) == nil
}

// Reconnect pings the node; database/sql replaces broken connections on
// the way.
func (c *Conn) Reconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return c.db.PingContext(ctx)
}

func (c *Conn) Close() error {
	return c.db.Close()
}

var _ cluster.DriverConn = (*Conn)(nil)
