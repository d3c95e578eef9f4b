// Package limiter provides the five reference admission-control
// algorithms described in spec §4.2: Null (always proceed), Concurrency
// (in-flight cap + minimum start spacing), Rate (sliding window with
// adaptive full-jitter backoff, optionally backed by a durable Store),
// Composite (logical AND fan-out), and EvenlySpaced (target an even
// inter-start interval rather than bursting).
package limiter
