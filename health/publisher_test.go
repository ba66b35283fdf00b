package health

import (
	"context"
	"errors"
	"testing"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/testutil"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "dbcluster.orders.events.node_disconnected", EventSubject("orders", EventNodeDisconnected))
	assert.Equal(t, "dbcluster.orders.events.>", EventWildcard("orders"))
}

func nextEvent(t *testing.T, sub *nats.Subscription) Event {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, EventSubject(ev.Pool, ev.Type), msg.Subject)
	return ev
}

func TestPublisher(t *testing.T) {
	ns := testutil.StartNATS(t)
	nc := ns.Connect(t)

	sub, err := nc.SubscribeSync(EventWildcard("orders"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewPublisher(nc, testutil.DiscardLogger())
	node := cluster.NodeStatus{Name: "db1", Addr: "db1:3306"}

	pub.OnNodeConnectFailed("orders", node, errors.New("connection refused"))
	ev := nextEvent(t, sub)
	assert.Equal(t, EventNodeConnectFailed, ev.Type)
	require.NotNil(t, ev.Node)
	assert.Equal(t, "db1", ev.Node.Name)
	assert.Equal(t, "connection refused", ev.Error)
	assert.NotZero(t, ev.Timestamp)

	// Selections are dropped unless enabled.
	pub.OnNodeSelected("orders", node, cluster.TierScan)
	pub.OnPoolExhausted("orders")
	ev = nextEvent(t, sub)
	assert.Equal(t, EventPoolExhausted, ev.Type)
	assert.Nil(t, ev.Node)

	pub.PublishSelections = true
	pub.OnNodeSelected("orders", node, cluster.TierAwait)
	ev = nextEvent(t, sub)
	assert.Equal(t, EventNodeSelected, ev.Type)
	assert.Equal(t, "await", ev.Tier)
}

func TestPublisher_PoolEvents(t *testing.T) {
	ns := testutil.StartNATS(t)
	nc := ns.Connect(t)

	sub, err := nc.SubscribeSync(EventWildcard("test"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tp := testutil.StartPool(t, testutil.PoolConfig{
		Nodes:   1,
		Options: []cluster.Option{cluster.WithObserver(NewPublisher(nc, testutil.DiscardLogger()))},
	})
	ev := nextEvent(t, sub)
	assert.Equal(t, EventNodeConnected, ev.Type)

	tp.Endpoint(0).SetExecError(testutil.ErrGoneAway)
	_, err = tp.Execute(context.Background(), cluster.Query("SELECT 1"))
	require.ErrorIs(t, err, cluster.ErrNodeUnavailable)

	ev = nextEvent(t, sub)
	assert.Equal(t, EventNodeDisconnected, ev.Type)
	assert.Equal(t, "node-1", ev.Node.Name)
	assert.False(t, ev.Node.Connected)
	assert.Contains(t, ev.Error, "gone away")
}
