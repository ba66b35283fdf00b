package cluster_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_InitialConnect(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 2, Unreachable: []int{1}})

	assert.True(t, tp.Node(0).Connected())
	assert.False(t, tp.Node(1).Connected())
	assert.Equal(t, 1, tp.Endpoint(0).OpenCalls())
	assert.Equal(t, 1, tp.Endpoint(1).OpenCalls())
	assert.Equal(t, "10.0.0.1:3306", tp.Node(0).Status().Addr)
}

func TestNode_ConnectFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:         1,
		Unreachable:   []int{0},
		RetryInterval: 30 * time.Second,
	})
	node := tp.Node(0)

	require.False(t, node.Connected())
	assert.Equal(t, tp.Clock.Now().Add(30*time.Second), node.NextRetry())

	// Before the deadline nothing is attempted.
	require.NoError(t, node.VerifyAndReconnect(ctx))
	tp.Clock.Advance(29 * time.Second)
	require.NoError(t, node.VerifyAndReconnect(ctx))
	assert.False(t, node.Reconnecting())
	assert.Equal(t, 1, tp.Endpoint(0).OpenCalls())

	// At the deadline one background attempt is claimed.
	tp.Clock.Advance(time.Second)
	require.NoError(t, node.VerifyAndReconnect(ctx))
	require.NoError(t, node.Wait(ctx))

	assert.Equal(t, 2, tp.Endpoint(0).OpenCalls())
	assert.False(t, node.Connected())
	assert.False(t, node.Reconnecting())
	assert.Equal(t, tp.Clock.Now().Add(30*time.Second), node.NextRetry())
}

func TestNode_DefaultRetryInterval(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})

	assert.Equal(t, cluster.DefaultRetryInterval, tp.Node(0).Config().RetryInterval)
	assert.Equal(t, tp.Clock.Now().Add(cluster.DefaultRetryInterval), tp.Node(0).NextRetry())
}

func TestNode_BackgroundReconnectRecovers(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})
	node := tp.Node(0)

	tp.Endpoint(0).SetReachable(true)
	tp.Clock.Advance(cluster.DefaultRetryInterval)

	require.NoError(t, node.VerifyAndReconnect(ctx))
	require.NoError(t, node.Wait(ctx))

	assert.True(t, node.Connected())
	assert.True(t, node.Active(ctx))
}

func TestNode_VerifyDoesNotBlockOnPendingReconnect(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})
	node := tp.Node(0)
	ep := tp.Endpoint(0)

	ep.Block()
	tp.Clock.Advance(cluster.DefaultRetryInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = node.VerifyAndReconnect(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("VerifyAndReconnect blocked on a pending connect")
	}
	assert.True(t, node.Reconnecting())

	ep.Release()
	require.NoError(t, node.Wait(ctx))
	assert.False(t, node.Reconnecting())
}

func TestNode_SingleBackgroundReconnect(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})
	node := tp.Node(0)
	ep := tp.Endpoint(0)

	ep.Block()
	tp.Clock.Advance(cluster.DefaultRetryInterval)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = node.VerifyAndReconnect(ctx)
		}()
	}
	wg.Wait()

	// Even past the claim cooldown a pending task prevents a second claim.
	tp.Clock.Advance(2 * cluster.DefaultClaimCooldown)
	require.NoError(t, node.VerifyAndReconnect(ctx))

	require.True(t, node.Reconnecting())
	ep.Release()
	require.NoError(t, node.Wait(ctx))

	assert.Equal(t, 2, ep.OpenCalls())
	assert.Equal(t, 1, ep.MaxConcurrentOpens())
}

func TestNode_WaitHonoursContext(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})
	node := tp.Node(0)
	ep := tp.Endpoint(0)

	ep.Block()
	defer ep.Release()
	tp.Clock.Advance(cluster.DefaultRetryInterval)
	require.NoError(t, node.VerifyAndReconnect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, node.Wait(ctx), context.DeadlineExceeded)
}

func TestNode_VerifyBrokenConnection(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1})
	node := tp.Node(0)

	require.NoError(t, node.VerifyAndReconnect(ctx))
	assert.True(t, node.Connected())
	assert.Equal(t, 1, tp.Endpoint(0).ReconnectCalls())

	tp.Endpoint(0).SetReconnectError(testutil.ErrGoneAway)
	err := node.VerifyAndReconnect(ctx)
	require.ErrorIs(t, err, testutil.ErrGoneAway)

	assert.False(t, node.Connected())
	assert.Equal(t, tp.Clock.Now().Add(cluster.DefaultBrokenCooldown), node.NextRetry())

	// The cooldown suppresses background attempts.
	tp.Clock.Advance(cluster.DefaultRetryInterval)
	require.NoError(t, node.VerifyAndReconnect(ctx))
	assert.False(t, node.Reconnecting())
	assert.Equal(t, 1, tp.Endpoint(0).OpenCalls())
}

func TestNode_ConnectReplacesConnection(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1})
	node := tp.Node(0)

	require.True(t, node.Connect(ctx))

	conns := tp.Endpoint(0).Conns()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Closed())
	assert.False(t, conns[1].Closed())
}

func TestNode_FailedConnectDropsConnection(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1})
	node := tp.Node(0)

	tp.Endpoint(0).SetReachable(false)
	require.False(t, node.Connect(ctx))

	assert.False(t, node.Connected())
	assert.False(t, node.Active(ctx))
	assert.True(t, tp.Endpoint(0).Conns()[0].Closed())
}

func TestNode_Active(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 2, Unreachable: []int{1}})

	assert.True(t, tp.Node(0).Active(ctx))
	assert.False(t, tp.Node(1).Active(ctx), "no connection")
	assert.Equal(t, 0, tp.Endpoint(1).ActiveCalls())

	tp.Endpoint(0).SetReachable(false)
	assert.False(t, tp.Node(0).Active(ctx))
	assert.True(t, tp.Node(0).Connected(), "Active does not change the cached flag")
}

func TestNode_Execute(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1})

	res, err := tp.Node(0).Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"node-1"}}, res.Rows)
	assert.Equal(t, 1, tp.Endpoint(0).ExecCalls())
}

func TestNode_ExecuteClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      cluster.ErrorKind
		wantConnected bool
	}{
		{
			name:          "gone away",
			err:           fmt.Errorf("exec: %w", testutil.ErrGoneAway),
			wantKind:      cluster.KindConnectionLost,
			wantConnected: false,
		},
		{
			name:          "cluster failure",
			err:           testutil.ErrClusterFailure,
			wantKind:      cluster.KindNodeUnavailable,
			wantConnected: false,
		},
		{
			name:          "tagged by driver",
			err:           cluster.TagError(cluster.KindConnectionLost, errors.New("broken pipe")),
			wantKind:      cluster.KindConnectionLost,
			wantConnected: false,
		},
		{
			name:          "syntax error",
			err:           errors.New("You have an error in your SQL syntax"),
			wantKind:      cluster.KindOther,
			wantConnected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, RetryInterval: 45 * time.Second})
			node := tp.Node(0)
			tp.Endpoint(0).SetExecError(tt.err)

			_, err := node.Execute(ctx, cluster.Exec("UPDATE t SET x = 1"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantConnected, node.Connected())

			var ne *cluster.NodeError
			if tt.wantKind == cluster.KindOther {
				assert.NotErrorIs(t, err, cluster.ErrNodeUnavailable)
				assert.False(t, errors.As(err, &ne))
				assert.True(t, node.NextRetry().IsZero())
				return
			}

			assert.ErrorIs(t, err, cluster.ErrNodeUnavailable)
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, tt.wantKind, ne.Kind)
			assert.Equal(t, "node-1", ne.Node)
			assert.Equal(t, tp.Clock.Now().Add(45*time.Second), node.NextRetry())
		})
	}
}

func TestNode_ExecuteWithoutConnection(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1, Unreachable: []int{0}})

	_, err := tp.Node(0).Execute(context.Background(), cluster.Query("SELECT 1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrNodeUnavailable)
	assert.ErrorIs(t, err, cluster.ErrNotConnected)

	var ne *cluster.NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, cluster.KindNoHandle, ne.Kind)
}

func TestNode_CancelledCallerKeepsNodeHealthy(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{Nodes: 1})
	node := tp.Node(0)

	// Drivers may report an abandoned query as a lost connection.
	tp.Endpoint(0).SetExecError(cluster.TagError(cluster.KindConnectionLost,
		fmt.Errorf("timeout: %w", context.DeadlineExceeded)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := node.Execute(ctx, cluster.Query("SELECT pg_sleep(10)"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, cluster.ErrNodeUnavailable)
	assert.True(t, node.Connected())
	assert.True(t, node.NextRetry().IsZero())

	tp.Endpoint(0).SetExecError(testutil.ErrGoneAway)
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = node.Execute(cancelled, cluster.Exec("UPDATE t SET x = 1"))
	require.Error(t, err)
	assert.True(t, node.Connected())
}

func TestNode_RepeatedFailuresKeepRetryDeadline(t *testing.T) {
	ctx := context.Background()
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:   2,
		Options: []cluster.Option{cluster.WithRandom(func(int) int { return 0 })},
	})
	node := tp.Node(0)

	pinned := tp.Connection()
	_, err := pinned.Execute(ctx, cluster.Query("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, "node-1", pinned.Node().Name())

	tp.Endpoint(0).SetExecError(testutil.ErrGoneAway)
	_, err = pinned.Execute(ctx, cluster.Query("SELECT 1"))
	require.ErrorIs(t, err, cluster.ErrNodeUnavailable)
	deadline := tp.Clock.Now().Add(cluster.DefaultRetryInterval)
	require.Equal(t, deadline, node.NextRetry())

	// The pinned session keeps failing more often than the retry interval.
	tp.Clock.Advance(cluster.DefaultRetryInterval / 2)
	_, err = pinned.Execute(ctx, cluster.Query("SELECT 1"))
	require.ErrorIs(t, err, cluster.ErrNodeUnavailable)
	assert.Equal(t, deadline, node.NextRetry())

	// Another session's scan still claims the reconnect on time.
	tp.Clock.Advance(cluster.DefaultRetryInterval / 2)
	selected, err := tp.SelectActiveNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-2", selected.Name())
	require.NoError(t, node.Wait(ctx))

	assert.Equal(t, 2, tp.Endpoint(0).OpenCalls())
	assert.True(t, node.Connected())
}

func TestNode_ConnectTimeoutBoundsBackgroundReconnect(t *testing.T) {
	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:       1,
		Unreachable: []int{0},
		Options:     []cluster.Option{cluster.WithConnectTimeout(50 * time.Millisecond)},
	})
	node := tp.Node(0)
	ep := tp.Endpoint(0)

	ep.Block()
	defer ep.Release()
	tp.Clock.Advance(cluster.DefaultRetryInterval)
	require.NoError(t, node.VerifyAndReconnect(context.Background()))
	require.True(t, node.Reconnecting())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, node.Wait(ctx))

	assert.False(t, node.Reconnecting())
	assert.False(t, node.Connected())
	assert.Equal(t, 2, ep.OpenCalls())
	assert.Equal(t, tp.Clock.Now().Add(cluster.DefaultRetryInterval), node.NextRetry())
}
