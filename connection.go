package cluster

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Connection is a session on a Pool. The first Execute selects a node and
// every later Execute uses that same node until Reset. A failed operation
// is returned to the caller as is; the session stays on its node.
//
// A Connection is safe for concurrent use, but is meant to cover a single
// unit of work such as one inbound request or one job.
type Connection struct {
	pool *Pool

	mu   sync.Mutex
	id   string
	node *Node
}

func newConnection(p *Pool) *Connection {
	return &Connection{pool: p, id: uuid.NewString()}
}

// ID identifies the current unit of work in logs. Reset assigns a new one.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Node returns the node this session is pinned to, or nil before first use.
func (c *Connection) Node() *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// Execute runs op on the session's node, selecting one first if needed.
func (c *Connection) Execute(ctx context.Context, op Operation) (Result, error) {
	node, err := c.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	return node.Execute(ctx, op)
}

func (c *Connection) acquire(ctx context.Context) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.node != nil {
		return c.node, nil
	}
	node, err := c.pool.SelectActiveNode(ctx)
	if err != nil {
		return nil, err
	}
	c.node = node
	c.pool.logger.Debug("session pinned", "session", c.id, "node", node.Name())
	return node, nil
}

// Reset clears the pinned node so the next Execute selects again. It is
// idempotent and must be called at the start of every unit of work.
func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node = nil
	c.id = uuid.NewString()
}

var _ Executor = (*Connection)(nil)
var _ Executor = (*Node)(nil)
