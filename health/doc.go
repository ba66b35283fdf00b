// Package health exposes pool state over NATS.
//
// A Checker answers request/reply status queries for a pool, and a
// Publisher is a cluster.Observer that publishes node events.
//
// # Usage
//
//	checker, err := health.NewChecker(health.Config{
//	    Pool:     "orders",
//	    NATSURLs: []string{"nats://localhost:4222"},
//	}, pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := checker.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer checker.Stop()
//
//	// Ask any process serving the pool
//	resp, err := checker.Query(ctx, "orders", 5*time.Second)
//
// Events are published by passing a Publisher to cluster.WithObserver:
//
//	pool, err := cluster.NewPool(ctx, cfg, drv,
//	    cluster.WithObserver(health.NewPublisher(nc, logger)))
//
// # NATS Subject Pattern
//
// Status requests use dbcluster.<pool>.status and events are published on
// dbcluster.<pool>.events.<type>.
package health
