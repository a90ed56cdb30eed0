// Package statestore provides the scoped per-session key-value store used to
// round-trip anti-replay state tokens and adapter custom parameters between
// the authorize redirect and the inbound callback. Pull is atomic
// read-and-clear, which is what makes the anti-replay token single-use.
package statestore

import "context"

// Store is a scoped key-value store. The scope is the caller's session id;
// keys never leak across scopes. A missing value reads as the empty string.
type Store interface {
	// Put stores value under (scope, key).
	Put(ctx context.Context, scope, key, value string) error

	// Get reads the value under (scope, key) without removing it.
	Get(ctx context.Context, scope, key string) (string, error)

	// Pull atomically reads and removes the value under (scope, key). The
	// value is gone after the call whether or not the caller accepts it.
	Pull(ctx context.Context, scope, key string) (string, error)
}
