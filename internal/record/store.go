package record

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a correlation id resolves to no record.
var ErrNotFound = errors.New("record: transaction not found")

// Store is the persistence contract the orchestration engine requires.
// Implementations must keep the append-only log intact and must never delete
// records.
type Store interface {
	// Create persists a new record. The record id must be unused.
	Create(ctx context.Context, tx *Transaction) error

	// Find returns a snapshot of the record with the given id.
	Find(ctx context.Context, id string) (*Transaction, error)

	// FindForUpdate loads the record under an exclusive lock. The lock is
	// held until one of the Locked methods releases it; only one caller at
	// a time can hold it, which is what makes the settle idempotency guard
	// race-free.
	FindForUpdate(ctx context.Context, id string) (Locked, error)

	// UpdateReference records the gateway-assigned reference id and token
	// after a successful authorization call.
	UpdateReference(ctx context.Context, id, referenceID, token string) error

	// MarkFailed transitions the record to FAILED and appends the entry.
	// Used on the authorize path, where no settle lock is in play.
	MarkFailed(ctx context.Context, id string, entry LogEntry) error

	// HasTraceNumber reports whether any record already carries the trace
	// number. Advisory duplicate-spend detection for adapters.
	HasTraceNumber(ctx context.Context, traceNumber string) (bool, error)

	// List returns snapshots of all records, oldest first. Feeds the audit
	// retrospective.
	List(ctx context.Context) ([]*Transaction, error)
}

// Locked is an exclusively locked record. Exactly one of MarkSucceeded,
// MarkFailed or Release must be called; each persists (or discards) and then
// releases the lock.
type Locked interface {
	// Transaction returns the locked record. Mutations to it are only
	// persisted through MarkSucceeded or MarkFailed.
	Transaction() *Transaction

	// MarkSucceeded writes the terminal SUCCEEDED state with the
	// settlement fields, appends the entry, commits and unlocks.
	MarkSucceeded(ctx context.Context, s Settlement, entry LogEntry) error

	// MarkFailed writes the terminal FAILED state, appends the entry,
	// commits and unlocks.
	MarkFailed(ctx context.Context, entry LogEntry) error

	// Release unlocks without persisting anything.
	Release(ctx context.Context) error
}
