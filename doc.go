// Package cluster provides a failover connection pool in front of a set of
// interchangeable database nodes, such as the SQL nodes of a MySQL Cluster
// where any node can serve any query.
//
// The pool always hands out a node that is currently reachable, without
// blocking the common case on dead nodes and without reconnecting to them
// synchronously on every request.
//
// # Quick Start
//
//	pool, err := cluster.NewPool(ctx, cluster.Config{
//	    Nodes: []cluster.NodeConfig{
//	        {Host: "10.0.0.1", Port: 3306},
//	        {Host: "10.0.0.2", Port: 3306},
//	        {Host: "10.0.0.3", Port: 3306},
//	    },
//	    NodeDefaults: cluster.NodeConfig{
//	        Username: "app",
//	        Password: os.Getenv("DB_PASSWORD"),
//	        Database: "shop",
//	    },
//	}, mysqldriver.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	conn := pool.Connection()
//	res, err := conn.Execute(ctx, cluster.Query("SELECT id, name FROM users"))
//
// # Failover
//
// Every node is connected once when the pool is built. [Pool.SelectActiveNode]
// then escalates through three passes:
//
//   - a scan from a random start that returns the first connected node whose
//     liveness probe passes, and claims a background reconnect for every
//     disconnected node whose retry deadline has passed
//   - a wait for the background reconnects already in flight
//   - a synchronous connect to each node in turn
//
// Only when all three fail does it return [ErrClusterUnavailable]. A node
// never has more than one background reconnect outstanding.
//
// # Sessions
//
// A [Connection] pins the node chosen by its first operation until
// [Connection.Reset]. Reset it (or create a new one) at the start of every
// request or job; [Middleware] and [Pool.Do] do this for you. A node that
// fails mid-session stays pinned until the session is reset.
//
// # Errors
//
// Operation failures the driver classifies as connection loss mark the node
// disconnected and are returned as a [*NodeError] matching
// [ErrNodeUnavailable]. Other failures are returned unchanged.
//
// # Sub-packages
//
//   - mysqldriver: MySQL / MySQL Cluster driver built on go-sql-driver/mysql
//   - pgxdriver: PostgreSQL driver built on pgx
//   - health: NATS status responder and event publisher for a pool
//   - testutil: fake driver and embedded NATS server for tests
package cluster
