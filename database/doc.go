// Package database wraps native realtime-database instances, listeners
// and transactions.
//
// # Instances and refs
//
// GetInstance returns the singleton wrapper for an app+database-URL pair,
// backed by the app's instance manager. Ref values address locations in
// the tree; reads and writes return tasks completed through the app's
// dispatcher.
//
// # Listeners
//
// OnValue and the OnChild variants route native events through the app's
// listener registry: an integer callback id crosses the boundary, the
// handler runs on the owning goroutine during Drain, and the copied
// snapshot payload is released after the handler returns.
//
// # Transactions
//
// RunTransaction registers a blocking transaction route. The native
// transaction thread blocks inside the sink until the owning goroutine
// drains and runs the user function, then commits or retries. The route
// stays registered until the transaction's task completes.
package database
