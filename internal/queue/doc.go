// Package queue provides the durable job queue that sits between the poller
// and the worker.
//
// Jobs move through queued → running → succeeded, or back to queued with a
// backoff delay when a delivery fails, until MaxAttempts deliveries have
// failed and the job is parked in the dead state. Dead jobs are kept for
// inspection and are only requeued by an explicit Retry.
//
// Two backends implement Queue:
//
//   - SQLiteQueue stores jobs in a local SQLite database (default).
//   - ValkeyQueue stores jobs in Valkey, using Lua scripts for every state
//     transition.
//
// At most one job exists per message ID. Enqueueing a known message returns
// the existing job's handle with Duplicate set.
package queue
