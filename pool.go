package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Tier names the escalation step that produced a selection.
type Tier int

const (
	// TierScan is the non-blocking randomized scan.
	TierScan Tier = iota + 1
	// TierAwait joins in-flight background reconnects.
	TierAwait
	// TierSync connects synchronously as a last resort.
	TierSync
)

func (t Tier) String() string {
	switch t {
	case TierScan:
		return "scan"
	case TierAwait:
		return "await"
	case TierSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Pool owns a fixed set of interchangeable nodes and selects a usable one.
type Pool struct {
	cfg    Config
	env    *shared
	nodes  []*Node
	intn   func(n int) int
	logger *slog.Logger

	cancel context.CancelFunc
	closed atomic.Bool
}

// NewPool validates cfg, creates one Node per configured endpoint and
// connects to all of them concurrently. It returns once every initial
// attempt has finished; nodes that failed will be retried later.
func NewPool(ctx context.Context, cfg Config, drv Driver, opts ...Option) (*Pool, error) {
	if drv == nil {
		return nil, fmt.Errorf("invalid config: driver is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultPoolOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger != nil {
		cfg.Logger = o.logger
	}
	if o.connectTimeout > 0 {
		cfg.ConnectTimeout = o.connectTimeout
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var observer Observer = NoOpObserver{}
	if len(o.observers) > 0 {
		observer = o.observers
	}

	logger := cfg.Logger.With("component", "pool", "pool", cfg.Name)
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	env := &shared{
		pool:           cfg.Name,
		driver:         drv,
		logger:         logger,
		metrics:        o.metrics,
		observer:       observer,
		now:            o.now,
		brokenCooldown: cfg.BrokenCooldown,
		claimCooldown:  cfg.ClaimCooldown,
		connectTimeout: cfg.ConnectTimeout,
		ctx:            baseCtx,
	}

	p := &Pool{
		cfg:    cfg,
		env:    env,
		nodes:  make([]*Node, len(cfg.Nodes)),
		intn:   o.intn,
		logger: logger,
		cancel: cancel,
	}
	for i, nc := range cfg.Nodes {
		p.nodes[i] = newNode(nc, env)
	}

	var g errgroup.Group
	for _, n := range p.nodes {
		g.Go(func() error {
			n.connect(ctx, connectInitial)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("pool initialized", "nodes", len(p.nodes), "connected", p.connectedCount())
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Nodes returns the pool's nodes in configuration order.
func (p *Pool) Nodes() []*Node {
	nodes := make([]*Node, len(p.nodes))
	copy(nodes, p.nodes)
	return nodes
}

func (p *Pool) connectedCount() int {
	count := 0
	for _, n := range p.nodes {
		if n.Connected() {
			count++
		}
	}
	return count
}

// SelectActiveNode returns a node that is currently usable. It first scans
// all nodes from a random start, returning the first connected and live one
// and kicking off background reconnects for the rest. If none qualifies it
// waits for in-flight reconnects, and finally connects synchronously to each
// node in turn. ErrClusterUnavailable is returned only after all three
// passes have failed.
func (p *Pool) SelectActiveNode(ctx context.Context) (*Node, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	count := len(p.nodes)
	start := p.intn(count)
	for i := 0; i < count; i++ {
		n := p.nodes[(start+i)%count]
		if n.Connected() && n.Active(ctx) {
			return p.selected(n, TierScan), nil
		}
		_ = n.VerifyAndReconnect(ctx)
	}

	// A task may already have finished by now; its outcome still counts.
	for _, n := range p.nodes {
		if err := n.Wait(ctx); err != nil {
			return nil, fmt.Errorf("await reconnect of %s: %w", n.Name(), err)
		}
		if n.Connected() {
			return p.selected(n, TierAwait), nil
		}
	}

	for _, n := range p.nodes {
		if err := n.Wait(ctx); err != nil {
			return nil, fmt.Errorf("await reconnect of %s: %w", n.Name(), err)
		}
		if n.Connected() || n.Connect(ctx) {
			return p.selected(n, TierSync), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.logger.Error("all nodes are down", "nodes", count)
	p.env.metrics.incExhausted(p.cfg.Name)
	p.env.observer.OnPoolExhausted(p.cfg.Name)
	return nil, ErrClusterUnavailable
}

func (p *Pool) selected(n *Node, tier Tier) *Node {
	p.logger.Info("active node", "node", n.Name(), "addr", n.cfg.Addr(), "tier", tier)
	p.env.metrics.incSelection(p.cfg.Name, n.Name(), tier)
	p.env.observer.OnNodeSelected(p.cfg.Name, n.Status(), tier)
	return n
}

// Connection starts a new session on the pool.
func (p *Pool) Connection() *Connection {
	return newConnection(p)
}

// Do runs fn with a fresh session that lives exactly as long as the call.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, c *Connection) error) error {
	c := p.Connection()
	defer c.Reset()
	return fn(WithConnection(ctx, c), c)
}

// Execute runs op on a freshly selected node.
func (p *Pool) Execute(ctx context.Context, op Operation) (Result, error) {
	return p.Connection().Execute(ctx, op)
}

// Status returns a snapshot of every node.
func (p *Pool) Status() Status {
	s := Status{
		Pool:  p.cfg.Name,
		Nodes: make([]NodeStatus, len(p.nodes)),
	}
	for i, n := range p.nodes {
		s.Nodes[i] = n.Status()
		if s.Nodes[i].Connected {
			s.Connected++
		}
	}
	return s
}

// Close disconnects every node and waits for background reconnects to
// finish. Selections after Close fail with ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, n := range p.nodes {
		if err := n.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n.Name(), err))
		}
	}
	p.cancel()
	p.env.tasks.Wait()

	p.logger.Info("pool closed")
	return errors.Join(errs...)
}

var _ Executor = (*Pool)(nil)
