package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cluster "github.com/eth0jp/go-dbcluster"
)

// Errors returned by the fake driver.
var (
	// ErrUnreachable is returned by Open for an unreachable node.
	ErrUnreachable = errors.New("connection refused")

	// ErrGoneAway is classified by FakeDriver as connection lost.
	ErrGoneAway = errors.New("server has gone away")

	// ErrClusterFailure is classified by FakeDriver as node unavailable.
	ErrClusterFailure = errors.New("cluster failure")
)

// FakeDriver is a scriptable cluster.Driver. Endpoints are keyed by
// NodeConfig.Name and are reachable unless told otherwise.
type FakeDriver struct {
	mu        sync.Mutex
	endpoints map[string]*FakeEndpoint
}

// NewFakeDriver creates a driver with no endpoints; they are created on first use.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{endpoints: make(map[string]*FakeEndpoint)}
}

// Endpoint returns the endpoint for name, creating a reachable one if needed.
func (d *FakeDriver) Endpoint(name string) *FakeEndpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	ep, ok := d.endpoints[name]
	if !ok {
		ep = &FakeEndpoint{name: name, reachable: true}
		d.endpoints[name] = ep
	}
	return ep
}

// Open implements cluster.Driver.
func (d *FakeDriver) Open(ctx context.Context, cfg cluster.NodeConfig) (cluster.DriverConn, error) {
	return d.Endpoint(cfg.Name).open(ctx)
}

// Classify implements cluster.Driver.
func (d *FakeDriver) Classify(err error) cluster.ErrorKind {
	switch {
	case errors.Is(err, ErrGoneAway):
		return cluster.KindConnectionLost
	case errors.Is(err, ErrClusterFailure):
		return cluster.KindNodeUnavailable
	default:
		return cluster.KindOther
	}
}

var _ cluster.Driver = (*FakeDriver)(nil)

// FakeEndpoint simulates one database node.
type FakeEndpoint struct {
	name string

	mu           sync.Mutex
	reachable    bool
	reconnectErr error
	execErr      error
	gate         chan struct{}
	conns        []*FakeConn

	openCalls      int
	activeCalls    int
	reconnectCalls int
	execCalls      int
	inFlight       int
	maxInFlight    int
}

// SetReachable controls whether Open succeeds and whether existing
// connections pass their liveness probe.
func (e *FakeEndpoint) SetReachable(reachable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reachable = reachable
}

// SetReconnectError makes Reconnect on live connections fail with err.
func (e *FakeEndpoint) SetReconnectError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconnectErr = err
}

// SetExecError makes every Execute fail with err. Nil restores success.
func (e *FakeEndpoint) SetExecError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execErr = err
}

// Block makes subsequent Open calls wait until Release.
func (e *FakeEndpoint) Block() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate == nil {
		e.gate = make(chan struct{})
	}
}

// Release unblocks Open calls held by Block.
func (e *FakeEndpoint) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
}

// OpenCalls returns how many times Open was called.
func (e *FakeEndpoint) OpenCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openCalls
}

// ActiveCalls returns how many liveness probes were made.
func (e *FakeEndpoint) ActiveCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCalls
}

// ReconnectCalls returns how many repair checks were made.
func (e *FakeEndpoint) ReconnectCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnectCalls
}

// ExecCalls returns how many operations reached this endpoint.
func (e *FakeEndpoint) ExecCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execCalls
}

// MaxConcurrentOpens returns the largest number of Open calls that were in
// progress at the same time.
func (e *FakeEndpoint) MaxConcurrentOpens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInFlight
}

// Conns returns every connection opened so far.
func (e *FakeEndpoint) Conns() []*FakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	conns := make([]*FakeConn, len(e.conns))
	copy(conns, e.conns)
	return conns
}

func (e *FakeEndpoint) open(ctx context.Context) (cluster.DriverConn, error) {
	e.mu.Lock()
	e.openCalls++
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	gate := e.gate
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reachable {
		return nil, fmt.Errorf("dial %s: %w", e.name, ErrUnreachable)
	}
	conn := &FakeConn{endpoint: e, id: len(e.conns) + 1}
	e.conns = append(e.conns, conn)
	return conn, nil
}

// FakeConn is a connection opened by FakeDriver.
type FakeConn struct {
	endpoint *FakeEndpoint
	id       int

	mu     sync.Mutex
	closed bool
}

// ID returns the 1-based open sequence number of the connection on its endpoint.
func (c *FakeConn) ID() int {
	return c.id
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Execute returns a single row holding the endpoint name, which lets tests
// tell nodes apart.
func (c *FakeConn) Execute(ctx context.Context, op cluster.Operation) (cluster.Result, error) {
	e := c.endpoint
	e.mu.Lock()
	e.execCalls++
	err := e.execErr
	e.mu.Unlock()

	if err != nil {
		return cluster.Result{}, err
	}
	if c.Closed() {
		return cluster.Result{}, cluster.TagError(cluster.KindConnectionLost, errors.New("use of closed connection"))
	}
	return cluster.Result{
		Columns:      []string{"node"},
		Rows:         [][]any{{e.name}},
		RowsAffected: 1,
	}, nil
}

// Active reports whether the endpoint is reachable and the connection open.
func (c *FakeConn) Active(ctx context.Context) bool {
	e := c.endpoint
	e.mu.Lock()
	e.activeCalls++
	reachable := e.reachable
	e.mu.Unlock()
	return reachable && !c.Closed()
}

// Reconnect fails with the configured reconnect error or when the endpoint
// is unreachable.
func (c *FakeConn) Reconnect(ctx context.Context) error {
	e := c.endpoint
	e.mu.Lock()
	e.reconnectCalls++
	err := e.reconnectErr
	reachable := e.reachable
	e.mu.Unlock()

	if err != nil {
		return err
	}
	if !reachable {
		return fmt.Errorf("ping %s: %w", e.name, ErrUnreachable)
	}
	return nil
}

// Close marks the connection closed.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ cluster.DriverConn = (*FakeConn)(nil)
