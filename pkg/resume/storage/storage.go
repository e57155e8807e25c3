// Package storage defines the single-slot resume store: one serialized
// provisioning request plus the armed state of the resume trigger,
// persisted alongside it.
package storage

import "context"

// Store is the durable single-slot persistence consumed by the resume
// controller. There is exactly one slot: saving overwrites any previous
// unresolved record, and an absent record means nothing to resume. The
// only supported access pattern is write as atomic overwrite, and
// read-then-optionally-delete.
type Store interface {
	// SaveRequest overwrites the slot with the serialized request.
	SaveRequest(ctx context.Context, data []byte) error

	// LoadRequest reads the slot. found is false when the slot is empty.
	LoadRequest(ctx context.Context) (data []byte, found bool, err error)

	// DeleteRequest clears the slot. Deleting an empty slot is a no-op.
	DeleteRequest(ctx context.Context) error

	// SetArmed persists the trigger armed flag.
	SetArmed(ctx context.Context, armed bool) error

	// Armed reads the trigger armed flag. An absent flag reads as false.
	Armed(ctx context.Context) (bool, error)
}
