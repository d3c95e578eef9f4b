// Package client implements the submitting/observing side of a queue
// (spec §4.6): Submit, WaitFor, Abort, AbortJobRun and OnProgress, in
// either attached mode (direct subscription to a co-located Server's
// event bus) or storage-subscribed mode (translating storage.Change
// deltas into the same event shape).
package client
