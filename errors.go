package cluster

import (
	"errors"
	"fmt"
)

// Pool errors.
var (
	// ErrNoNodes indicates the pool was configured without any nodes.
	ErrNoNodes = errors.New("at least one node is required")

	// ErrNotConnected indicates the node holds no underlying connection.
	ErrNotConnected = errors.New("node has no connection")

	// ErrNodeUnavailable indicates an operation failed because the node lost its connection.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrClusterUnavailable indicates no node could be reached after full escalation.
	ErrClusterUnavailable = errors.New("all nodes are down")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("pool closed")
)

// NodeError is returned by Node.Execute when the operation failed with a
// connection-lost class error. It matches ErrNodeUnavailable and unwraps to
// the driver error.
type NodeError struct {
	Node string
	Kind ErrorKind
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s unavailable (%s): %v", e.Node, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() []error {
	return []error{ErrNodeUnavailable, e.Err}
}
