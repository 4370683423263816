// Package queue provides the durable mint queue and the cluster-wide locking around it.
//
// # Overview
//
// Tasks are appended to a FIFO held in a shared Store (Redis in production). A single
// Worker per process pops the head, takes the ProcessingLock and runs the mint workflow.
// The lock is global: across every process sharing the store, at most one task is being
// minted at any instant, which keeps the backend wallet's nonces ordered.
//
// A UserPendingGuard keyed by (user, collection) is set at enqueue time, so a user cannot
// have two tasks in flight for the same collection.
//
// # Results
//
// The process that enqueued a task keeps a waiter for it and Submit blocks until the worker
// resolves that waiter. If the enqueuing process dies, the task still completes from the
// queue; its result is simply not delivered.
//
// # Degraded mode
//
// When the store is unreachable at enqueue time, Submit runs the workflow synchronously in
// the caller's goroutine with no guard, queue or lock. This keeps the service available at
// the cost of durability and cross-instance exclusion.
//
// # Partial mints
//
// A task that fails after its mint transaction was sent leaves a PartialMint record in the
// store. Nothing resumes these automatically; they are listed for operators.
package queue
