package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestPool wraps a pool built on a FakeDriver with a fake clock.
type TestPool struct {
	*cluster.Pool
	Driver *FakeDriver
	Clock  *Clock
	Names  []string
}

// PoolConfig configures a test pool.
type PoolConfig struct {
	// Nodes is the number of nodes, named node-1..node-N.
	Nodes int

	// Unreachable lists 0-based node indexes that refuse connections from
	// the start.
	Unreachable []int

	RetryInterval time.Duration
	Options       []cluster.Option
}

// StartPool builds a pool with the given configuration. The pool is closed
// when the test finishes.
func StartPool(t *testing.T, cfg PoolConfig) *TestPool {
	t.Helper()

	if cfg.Nodes < 1 {
		cfg.Nodes = 1
	}

	drv := NewFakeDriver()
	clock := NewClock()
	nodes := make([]cluster.NodeConfig, cfg.Nodes)
	names := make([]string, cfg.Nodes)
	for i := range nodes {
		names[i] = fmt.Sprintf("node-%d", i+1)
		nodes[i] = cluster.NodeConfig{
			Name:          names[i],
			Host:          fmt.Sprintf("10.0.0.%d", i+1),
			Port:          3306,
			RetryInterval: cfg.RetryInterval,
		}
		drv.Endpoint(names[i])
	}
	for _, i := range cfg.Unreachable {
		drv.Endpoint(names[i]).SetReachable(false)
	}

	opts := append([]cluster.Option{
		cluster.WithClock(clock.Now),
		cluster.WithLogger(DiscardLogger()),
	}, cfg.Options...)

	pool, err := cluster.NewPool(context.Background(), cluster.Config{
		Name:  "test",
		Nodes: nodes,
	}, drv, opts...)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		_ = pool.Close()
	})

	return &TestPool{Pool: pool, Driver: drv, Clock: clock, Names: names}
}

// Endpoint returns the fake endpoint behind node i (0-based).
func (p *TestPool) Endpoint(i int) *FakeEndpoint {
	return p.Driver.Endpoint(p.Names[i])
}

// Node returns pool node i (0-based).
func (p *TestPool) Node(i int) *cluster.Node {
	return p.Pool.Nodes()[i]
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
