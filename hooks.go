package cluster

// Observer receives pool and node state changes. All methods are called
// synchronously from the goroutine that caused the change - implementations
// must not block and should spawn goroutines if async behavior is needed.
type Observer interface {
	// OnNodeConnected is called after a connect attempt succeeded.
	OnNodeConnected(pool string, node NodeStatus)

	// OnNodeConnectFailed is called after a connect attempt failed.
	OnNodeConnectFailed(pool string, node NodeStatus, err error)

	// OnNodeDisconnected is called when a live node is marked disconnected.
	OnNodeDisconnected(pool string, node NodeStatus, err error)

	// OnNodeSelected is called when SelectActiveNode returns a node.
	OnNodeSelected(pool string, node NodeStatus, tier Tier)

	// OnPoolExhausted is called when no node could be selected.
	OnPoolExhausted(pool string)
}

// NoOpObserver is a default implementation of Observer that does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnNodeConnected(string, NodeStatus) {}
func (NoOpObserver) OnNodeConnectFailed(string, NodeStatus, error) {}
func (NoOpObserver) OnNodeDisconnected(string, NodeStatus, error) {}
func (NoOpObserver) OnNodeSelected(string, NodeStatus, Tier) {}
func (NoOpObserver) OnPoolExhausted(string) {}

var _ Observer = NoOpObserver{}

// Observers fans every callback out to each observer in order.
type Observers []Observer

func (o Observers) OnNodeConnected(pool string, node NodeStatus) {
	for _, obs := range o {
		obs.OnNodeConnected(pool, node)
	}
}

func (o Observers) OnNodeConnectFailed(pool string, node NodeStatus, err error) {
	for _, obs := range o {
		obs.OnNodeConnectFailed(pool, node, err)
	}
}

func (o Observers) OnNodeDisconnected(pool string, node NodeStatus, err error) {
	for _, obs := range o {
		obs.OnNodeDisconnected(pool, node, err)
	}
}

func (o Observers) OnNodeSelected(pool string, node NodeStatus, tier Tier) {
	for _, obs := range o {
		obs.OnNodeSelected(pool, node, tier)
	}
}

func (o Observers) OnPoolExhausted(pool string) {
	for _, obs := range o {
		obs.OnPoolExhausted(pool)
	}
}

var _ Observer = Observers(nil)
