package cluster_test

import (
	"context"
	"sync/atomic"
	"testing"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rotatingStart returns a WithRandom option that yields 0, 1, 2, ... mod n.
func rotatingStart() cluster.Option {
	var calls atomic.Int64
	return cluster.WithRandom(func(n int) int {
		return int(calls.Add(1)-1) % n
	})
}

func nodeOf(t *testing.T, res cluster.Result) string {
	t.Helper()
	require.Len(t, res.Rows, 1)
	name, ok := res.Rows[0][0].(string)
	require.True(t, ok)
	return name
}

func TestConnection_PinsNodeForSession(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:   3,
		Options: []cluster.Option{rotatingStart()},
	})

	conn := tp.Connection()
	assert.Nil(t, conn.Node())

	first, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	second, err := conn.Execute(ctx, cluster.Query("SELECT 2"))
	require.NoError(t, err)

	assert.Equal(t, nodeOf(t, first), nodeOf(t, second))
	assert.Equal(t, "node-1", conn.Node().Name())
}

func TestConnection_ResetReselects(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:   3,
		Options: []cluster.Option{rotatingStart()},
	})

	conn := tp.Connection()
	res, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeOf(t, res))
	id := conn.ID()

	conn.Reset()
	assert.Nil(t, conn.Node())
	assert.NotEqual(t, id, conn.ID())

	res, err = conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, "node-2", nodeOf(t, res))

	// Reset is idempotent.
	conn.Reset()
	conn.Reset()
	assert.Nil(t, conn.Node())
}

func TestConnection_ExhaustedPoolLeavesSessionEmpty(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 2, Unreachable: []int{0, 1}})

	conn := tp.Connection()
	_, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.ErrorIs(t, err, cluster.ErrClusterUnavailable)
	assert.Nil(t, conn.Node())

	// The next call selects again and picks up a recovered node.
	tp.Endpoint(1).SetReachable(true)
	res, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, "node-2", nodeOf(t, res))
}

func TestConnection_MidSessionFailureStaysPinned(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:   2,
		Options: []cluster.Option{cluster.WithRandom(func(int) int { return 0 })},
	})

	conn := tp.Connection()
	_, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, "node-1", conn.Node().Name())

	tp.Endpoint(0).SetExecError(testutil.ErrGoneAway)
	_, err = conn.Execute(ctx, cluster.Exec("UPDATE t SET x = 1"))
	require.ErrorIs(t, err, cluster.ErrNodeUnavailable)
	assert.False(t, tp.Node(0).Connected())
	assert.Equal(t, tp.Clock.Now().Add(cluster.DefaultRetryInterval), tp.Node(0).NextRetry())

	// No implicit failover inside the session.
	_, err = conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.ErrorIs(t, err, cluster.ErrNodeUnavailable)
	assert.Equal(t, "node-1", conn.Node().Name())
	assert.Equal(t, 0, tp.Endpoint(1).ExecCalls())

	// A new session moves on.
	conn.Reset()
	res, err := conn.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, "node-2", nodeOf(t, res))
}

func TestPool_Do(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 2})

	var session *cluster.Connection
	err := tp.Do(ctx, func(ctx context.Context, c *cluster.Connection) error {
		session = c
		assert.Same(t, c, cluster.ConnectionFromContext(ctx))

		first, err := c.Execute(ctx, cluster.Query("SELECT 1"))
		if err != nil {
			return err
		}
		second, err := c.Execute(ctx, cluster.Query("SELECT 2"))
		if err != nil {
			return err
		}
		assert.Equal(t, nodeOf(t, first), nodeOf(t, second))
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, session.Node(), "session is reset after Do")
}

func TestPool_DoReturnsError(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})

	err := tp.Do(context.Background(), func(ctx context.Context, c *cluster.Connection) error {
		_, err := c.Execute(ctx, cluster.Query("SELECT 1"))
		return err
	})
	assert.ErrorIs(t, err, cluster.ErrClusterUnavailable)
}
