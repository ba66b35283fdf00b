package cluster

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
)

// OpKind distinguishes statements that return rows from those that don't.
type OpKind int

const (
	// OpExec runs a statement and reports affected rows.
	OpExec OpKind = iota
	// OpQuery runs a statement and collects the returned rows.
	OpQuery
)

func (k OpKind) String() string {
	switch k {
	case OpExec:
		return "exec"
	case OpQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Operation is a single unit of work executed against exactly one node.
type Operation struct {
	Kind      OpKind
	Statement string
	Args      []any
}

// Exec builds an OpExec operation.
func Exec(statement string, args ...any) Operation {
	return Operation{Kind: OpExec, Statement: statement, Args: args}
}

// Query builds an OpQuery operation.
func Query(statement string, args ...any) Operation {
	return Operation{Kind: OpQuery, Statement: statement, Args: args}
}

// Result is the outcome of an Operation.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
}

// Executor runs operations. Node and Connection both implement it.
type Executor interface {
	Execute(ctx context.Context, op Operation) (Result, error)
}

// DriverConn is a live connection to one node, owned by that Node.
type DriverConn interface {
	Executor

	// Active probes liveness. It must not panic and reports failures as false.
	Active(ctx context.Context) bool

	// Reconnect validates the session and repairs it in place if possible.
	Reconnect(ctx context.Context) error

	Close() error
}

// Driver opens connections to individual nodes and classifies their errors.
type Driver interface {
	Open(ctx context.Context, cfg NodeConfig) (DriverConn, error)

	// Classify maps a driver error to an ErrorKind. Unknown errors are KindOther.
	Classify(err error) ErrorKind
}

// ErrorKind tags an operation failure at the driver boundary.
type ErrorKind int

const (
	// KindOther is any failure that says nothing about node health.
	KindOther ErrorKind = iota
	// KindNoHandle means there was no underlying connection to use.
	KindNoHandle
	// KindConnectionLost covers broken pipe, gone away and lost connection errors.
	KindConnectionLost
	// KindNodeUnavailable means the node reported it can't serve the cluster.
	KindNodeUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindNoHandle:
		return "no_handle"
	case KindConnectionLost:
		return "connection_lost"
	case KindNodeUnavailable:
		return "node_unavailable"
	default:
		return "unknown"
	}
}

// Recoverable reports whether the kind marks the node disconnected.
func (k ErrorKind) Recoverable() bool {
	return k != KindOther
}

// KindError is an error carrying an explicit ErrorKind.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }

func (e *KindError) Unwrap() error { return e.Err }

// TagError attaches kind to err. Drivers use it to report health-relevant
// failures without relying on Classify.
func TagError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// lostConnErrors are transport failures recognised regardless of driver.
var lostConnErrors = []error{
	net.ErrClosed,
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	io.ErrUnexpectedEOF,
	driver.ErrBadConn,
	sql.ErrConnDone,
}

// Classify resolves the ErrorKind of err: explicit tags first, then a
// missing handle, then the driver's table, then generic transport errors.
func Classify(drv Driver, err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, ErrNotConnected) {
		return KindNoHandle
	}
	if drv != nil {
		if kind := drv.Classify(err); kind != KindOther {
			return kind
		}
	}
	for _, target := range lostConnErrors {
		if errors.Is(err, target) {
			return KindConnectionLost
		}
	}
	return KindOther
}
