// Package memsto provides a process-local, mutex-guarded Storage
// implementation — the in-memory reference backend required by spec §2.
package memsto
