// Package server supervises a pool of workers over one queue, adding
// the three concerns spec §4.5 requires beyond a bare worker loop:
// startup fix-up of orphaned PROCESSING/ABORTING rows, a periodic or
// immediate cleanup sweep of terminal jobs, and stat aggregation from
// worker lifecycle events. It generalizes the teacher's single
// Worker+CleanWorker pair to an arbitrary number of workers sharing one
// queue and one limiter.
package server
