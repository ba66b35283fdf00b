package health

import (
	"fmt"
	"log/slog"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// EventType identifies a pool event.
type EventType string

const (
	EventNodeConnected     EventType = "node_connected"
	EventNodeConnectFailed EventType = "node_connect_failed"
	EventNodeDisconnected  EventType = "node_disconnected"
	EventNodeSelected      EventType = "node_selected"
	EventPoolExhausted     EventType = "pool_exhausted"
)

// Event is the payload published for every pool event.
type Event struct {
	Type      EventType           `json:"type"`
	Pool      string              `json:"pool"`
	Node      *cluster.NodeStatus `json:"node,omitempty"`
	Tier      string              `json:"tier,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// EventSubject returns the subject events of type t are published on.
func EventSubject(pool string, t EventType) string {
	return fmt.Sprintf("dbcluster.%s.events.%s", pool, t)
}

// EventWildcard matches every event subject of pool.
func EventWildcard(pool string) string {
	return fmt.Sprintf("dbcluster.%s.events.>", pool)
}

// Publisher is a cluster.Observer that publishes pool events to NATS.
// Selections are frequent, so they are only published when
// PublishSelections is set.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger

	PublishSelections bool
}

// NewPublisher creates a publisher on an existing connection. The caller
// owns nc.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		nc:     nc,
		logger: logger.With("component", "health-publisher"),
	}
}

func (p *Publisher) OnNodeConnected(pool string, node cluster.NodeStatus) {
	p.publish(Event{Type: EventNodeConnected, Pool: pool, Node: &node})
}

func (p *Publisher) OnNodeConnectFailed(pool string, node cluster.NodeStatus, err error) {
	p.publish(Event{Type: EventNodeConnectFailed, Pool: pool, Node: &node, Error: errString(err)})
}

func (p *Publisher) OnNodeDisconnected(pool string, node cluster.NodeStatus, err error) {
	p.publish(Event{Type: EventNodeDisconnected, Pool: pool, Node: &node, Error: errString(err)})
}

func (p *Publisher) OnNodeSelected(pool string, node cluster.NodeStatus, tier cluster.Tier) {
	if !p.PublishSelections {
		return
	}
	p.publish(Event{Type: EventNodeSelected, Pool: pool, Node: &node, Tier: tier.String()})
}

func (p *Publisher) OnPoolExhausted(pool string) {
	p.publish(Event{Type: EventPoolExhausted, Pool: pool})
}

func (p *Publisher) publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	// Publish only buffers; it never waits on the server.
	if err := p.nc.Publish(EventSubject(ev.Pool, ev.Type), data); err != nil {
		p.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ cluster.Observer = (*Publisher)(nil)
