package client

import (
	"context"

	"github.com/google/uuid"
)

// JobHandle is returned by Client.Submit (spec §4.6 "Submit").
type JobHandle struct {
	id     uuid.UUID
	client *Client
}

// ID returns the submitted job's identifier.
func (h *JobHandle) ID() uuid.UUID { return h.id }

// WaitFor resolves with the job's output on COMPLETED, rejects with a
// rehydrated typed error on FAILED/DISABLED, or blocks until one of
// those or ctx is canceled. If the job is already terminal, WaitFor
// settles synchronously from the current storage row.
func (h *JobHandle) WaitFor(ctx context.Context) (any, error) {
	return h.client.waitFor(ctx, h.id)
}

// Abort requests cooperative cancellation of the job by marking its row
// ABORTING; idempotent.
func (h *JobHandle) Abort(ctx context.Context) error {
	return h.client.abort(ctx, h.id)
}

// OnProgress registers listener for this job's progress updates and
// returns a function to unregister it.
func (h *JobHandle) OnProgress(listener ProgressListener) Unsubscribe {
	return h.client.onProgress(h.id, listener)
}
