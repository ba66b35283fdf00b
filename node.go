package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	connectInitial = "initial"
	connectAsync   = "async"
	connectSync    = "sync"
)

// shared is the per-pool state every Node reads but never mutates.
type shared struct {
	pool     string
	driver   Driver
	logger   *slog.Logger
	metrics  *Metrics
	observer Observer
	now      func() time.Time

	brokenCooldown time.Duration
	claimCooldown  time.Duration
	connectTimeout time.Duration

	// ctx parents background reconnects; cancelled by Pool.Close.
	ctx   context.Context
	tasks sync.WaitGroup
}

// reconnectTask is the single outstanding background connect of a node.
type reconnectTask struct {
	done chan struct{}
}

// Node owns the connection to one endpoint and tracks its health.
type Node struct {
	cfg    NodeConfig
	env    *shared
	logger *slog.Logger

	mu        sync.Mutex
	conn      DriverConn
	connected bool
	nextRetry time.Time
	pending   *reconnectTask
	closed    bool
}

func newNode(cfg NodeConfig, env *shared) *Node {
	return &Node{
		cfg:    cfg,
		env:    env,
		logger: env.logger.With("node", cfg.Name),
	}
}

// Name returns the node's configured name.
func (n *Node) Name() string {
	return n.cfg.Name
}

// Config returns the node's resolved configuration.
func (n *Node) Config() NodeConfig {
	return n.cfg
}

// Connected returns the cached connected flag. It performs no I/O.
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// NextRetry returns the earliest time a background reconnect may be claimed.
func (n *Node) NextRetry() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nextRetry
}

// Reconnecting returns true while a background reconnect is in flight.
func (n *Node) Reconnecting() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending != nil
}

// Status returns a snapshot of the node state.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

func (n *Node) statusLocked() NodeStatus {
	return NodeStatus{
		Name:         n.cfg.Name,
		Addr:         n.cfg.Addr(),
		Connected:    n.connected,
		Reconnecting: n.pending != nil,
		NextRetry:    n.nextRetry,
	}
}

// Connect opens a new connection, blocking until the driver returns. On
// failure the node is disconnected and its next retry is one RetryInterval
// away. It reports whether the node is now connected.
func (n *Node) Connect(ctx context.Context) bool {
	return n.connect(ctx, connectSync)
}

func (n *Node) connect(ctx context.Context, mode string) bool {
	start := time.Now()
	conn, err := n.env.driver.Open(ctx, n.cfg)
	elapsed := time.Since(start)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return false
	}
	old := n.conn
	if err != nil {
		n.conn = nil
		n.connected = false
		n.nextRetry = n.env.now().Add(n.cfg.RetryInterval)
	} else {
		n.conn = conn
		n.connected = true
	}
	status := n.statusLocked()
	n.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
	}

	n.env.metrics.observeConnect(n.env.pool, n.cfg.Name, mode, elapsed, err == nil)
	n.env.metrics.setNodeUp(n.env.pool, n.cfg.Name, err == nil)

	if err != nil {
		n.logger.Warn("node connection error", "mode", mode, "error", err, "next_retry", status.NextRetry)
		n.env.observer.OnNodeConnectFailed(n.env.pool, status, err)
		return false
	}
	n.logger.Info("node connection ok", "mode", mode, "duration", elapsed)
	n.env.observer.OnNodeConnected(n.env.pool, status)
	return true
}

// Active probes the live connection. It returns false when there is no
// connection or the probe fails.
func (n *Node) Active(ctx context.Context) (active bool) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("liveness probe panicked", "panic", r)
			active = false
		}
	}()
	return conn.Active(ctx)
}

// VerifyAndReconnect repairs a connected node in place, or claims and starts
// a background reconnect for a disconnected one whose retry deadline has
// passed. The disconnected path never blocks.
//
// If repairing a live connection fails the node is marked disconnected with
// the long broken cooldown and the repair error is returned.
func (n *Node) VerifyAndReconnect(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrPoolClosed
	}

	if n.connected {
		conn := n.conn
		n.mu.Unlock()

		err := conn.Reconnect(ctx)
		if err == nil {
			return nil
		}

		n.mu.Lock()
		flipped := n.connected && n.conn == conn
		if flipped {
			n.connected = false
			n.nextRetry = n.env.now().Add(n.env.brokenCooldown)
		}
		status := n.statusLocked()
		n.mu.Unlock()

		if flipped {
			n.logger.Warn("node disconnected", "error", err, "next_retry", status.NextRetry)
			n.env.metrics.setNodeUp(n.env.pool, n.cfg.Name, false)
			n.env.metrics.incDisconnect(n.env.pool, n.cfg.Name, Classify(n.env.driver, err))
			n.env.observer.OnNodeDisconnected(n.env.pool, status, err)
		}
		return err
	}

	now := n.env.now()
	if n.pending != nil || now.Before(n.nextRetry) {
		n.mu.Unlock()
		return nil
	}
	task := &reconnectTask{done: make(chan struct{})}
	n.pending = task
	n.nextRetry = now.Add(n.env.claimCooldown)
	n.env.tasks.Add(1)
	n.mu.Unlock()

	n.logger.Debug("background reconnect claimed")
	go n.reconnect(task)
	return nil
}

func (n *Node) reconnect(task *reconnectTask) {
	defer n.env.tasks.Done()

	ctx := n.env.ctx
	if n.env.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.env.connectTimeout)
		defer cancel()
	}

	n.connect(ctx, connectAsync)

	n.mu.Lock()
	if n.pending == task {
		n.pending = nil
	}
	n.mu.Unlock()
	close(task.done)
}

// Wait blocks until the in-flight background reconnect, if any, finishes.
func (n *Node) Wait(ctx context.Context) error {
	n.mu.Lock()
	task := n.pending
	n.mu.Unlock()

	if task == nil {
		return nil
	}
	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute forwards op to the live connection. Connection-lost class failures
// mark the node disconnected and are returned as a *NodeError; any other
// error is returned unchanged.
func (n *Node) Execute(ctx context.Context, op Operation) (Result, error) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	start := time.Now()
	var (
		res Result
		err error
	)
	if conn == nil {
		err = ErrNotConnected
	} else {
		res, err = conn.Execute(ctx, op)
	}

	kind := Classify(n.env.driver, err)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; whatever the driver reported is not a node failure.
		kind = KindOther
	}
	n.env.metrics.observeOperation(n.env.pool, n.cfg.Name, op, time.Since(start), kind, err)
	if err == nil {
		return res, nil
	}
	if !kind.Recoverable() {
		return res, err
	}

	n.markDisconnected(conn, kind, err)
	return res, &NodeError{Node: n.cfg.Name, Kind: kind, Err: err}
}

// markDisconnected records a mid-operation failure of conn. It leaves the
// node alone if conn has already been replaced or the node is already down.
func (n *Node) markDisconnected(conn DriverConn, kind ErrorKind, err error) {
	n.mu.Lock()
	if n.conn != conn {
		n.mu.Unlock()
		return
	}
	wasConnected := n.connected
	n.connected = false
	if wasConnected {
		// Only the transition schedules a retry; a pending deadline stays put.
		n.nextRetry = n.env.now().Add(n.cfg.RetryInterval)
	}
	status := n.statusLocked()
	n.mu.Unlock()

	if !wasConnected {
		return
	}
	n.env.metrics.setNodeUp(n.env.pool, n.cfg.Name, false)
	n.env.metrics.incDisconnect(n.env.pool, n.cfg.Name, kind)
	n.logger.Warn("node disconnected", "kind", kind, "error", err, "next_retry", status.NextRetry)
	n.env.observer.OnNodeDisconnected(n.env.pool, status, err)
}

// close releases the connection and refuses new reconnect claims. Connect
// attempts still in flight discard their result.
func (n *Node) close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.connected = false
	n.closed = true
	n.mu.Unlock()

	n.env.metrics.setNodeUp(n.env.pool, n.cfg.Name, false)
	if conn == nil {
		return nil
	}
	return conn.Close()
}
