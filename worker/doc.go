// Package worker implements the per-queue pull loop and per-job
// execution state machine, generalizing the teacher's
// Worker/handleOrExtend machinery from a visibility-timeout message
// queue to storage-driven job claims, limiter-gated admission,
// cooperative abort, and the five-way error taxonomy.
package worker
