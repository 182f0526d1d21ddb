// Package routing tracks which conversational endpoints are linked so
// messages can be relayed between them: the parties, their pending
// connection requests, and the established connections.
//
// The package layers three pieces:
//
//  1. Store - the storage contract. MemoryStore keeps everything in process
//     memory for single-instance runs and tests; PostgresStore shares the
//     state between bot instances through a partitioned two-table layout on
//     PostgreSQL or CockroachDB.
//  2. Manager - the rule layer. It enforces category uniqueness, the mutual
//     exclusion of requests and connections, and aggregation-channel role
//     exclusivity, and resolves connection counterparts from either side.
//  3. Sweeper - an optional cron-scheduled janitor that expires stale
//     pending requests through the Manager.
//
// Store and Manager operations report outcomes as booleans rather than
// errors: a false mutation was rejected or failed, and reads degrade to
// empty results when the backend is unreachable. Backend failures are
// visible only in the diagnostic log, so both backends present identical
// behavior to callers.
//
// Example usage:
//
//	store, err := routing.NewPostgresStoreFromDSN(dsn, nil)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	manager, err := routing.NewManager(routing.ManagerConfig{Store: store})
//	if err != nil {
//		return err
//	}
//
//	if manager.AddPendingRequest(ctx, user) {
//		// ... later, an operator accepts:
//		manager.Connect(ctx, agent, user)
//	}
package routing
