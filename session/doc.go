// Package session provides session persistence over any store.Store backend
// and a compact binary session encoding.
//
// # Binary encoding
//
// Sessions are stored as a versioned binary blob. The session id is never
// part of the blob or the key: keys are derived by hashing the id, so a
// leaked key listing reveals no usable access codes.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT verify
// request signatures or decide authentication outcomes; those belong to the
// signature package and the Engine.
//
// # What this package must NOT do
//
//   - Import opentoken or signature (no upward imports).
//   - Use raw session ids as storage keys.
package session
