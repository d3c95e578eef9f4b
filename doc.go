// Package duraq provides a durable, pluggable job queue: it schedules,
// dispatches, throttles and tracks asynchronous work units ("jobs")
// through a lifecycle (Pending -> Processing -> {Completed | Failed |
// Disabled}, with Aborting as a transient cancellation request) against
// any storage backend that implements the storage.Storage port.
//
// # Overview
//
// The system decomposes into five cooperating packages, leaves first:
//
//   - limiter: gates whether a worker may begin another job and
//     computes the next earliest permissible start time (Null,
//     Concurrency, Rate, Composite, EvenlySpaced).
//   - storage: the abstract atomic job table (Add, Get, Next, Peek,
//     Size, Complete, Abort, SaveProgress, Delete*, OutputForInput,
//     SubscribeToChanges), plus two implementations: memsto (in-memory
//     reference) and sqlsto (bun-backed SQL).
//   - worker: the pull-loop that pairs a Limiter with a Storage,
//     running one job's Handler to completion, failure, retry or abort,
//     and emitting lifecycle events.
//   - server: supervises a pool of Workers for one queue — startup
//     fix-up of orphaned rows, a cleanup/TTL sweep, stat aggregation,
//     dynamic worker scaling.
//   - client: submits jobs and observes their progress and outcome,
//     either by direct event forwarding from a co-located Server or by
//     subscribing to a storage change-stream.
//
// # Data flow
//
// A Client's Submit writes a Pending row via Storage. A Server's
// Workers repeatedly consult the Limiter, claim the next ready row via
// Storage's atomic Next, execute the job's Handler with a cancellable
// context and a progress callback, and settle the row to Completed,
// Failed, back to Pending (retry), or Disabled. Events are published
// both locally (events.Emitter) and, for cross-process Clients, via the
// storage change-stream.
//
// # Out of scope
//
// Distributed consensus beyond a single storage row as source of truth;
// a built-in persistence format of its own; generic workflow DAG
// semantics. Concrete storage adapters beyond the bundled memsto/sqlsto
// pair are addressed only by the storage.Storage interface.
package duraq
