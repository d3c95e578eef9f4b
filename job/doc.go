// Package job defines the persisted representation of a unit of work
// moving through the queue's lifecycle state machine, along with the
// typed error variants that control its settlement.
//
// A Job is the system's single source of truth: every field a Storage
// implementation maintains (status, attempts, locks, progress,
// scheduling timestamps) lives here. Job values returned by a Storage
// implementation are snapshots; transitions happen only through the
// Storage contract, never by mutating a Job directly.
//
// Job is not intended to be constructed manually by user code; it is
// produced by Storage.Add and returned by Storage.Next/Get/Peek.
package job
