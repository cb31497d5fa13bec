// Package stores holds the short-lived and long-lived records of the
// authentication lifecycle on top of any store.Store backend: per-account
// challenge lists, client tokens, registrations and accounts.
//
// # Design
//
// Each record is a versioned, binary-encoded blob with an absolute expiry.
// Storage keys are always prefix + ":" + hash(identifier) through a
// hash.Keyer; raw identifiers never reach the backend. Read-modify-write
// updates go through mutate, which uses store.Swapper compare-and-swap with
// bounded retry when the backend provides it and falls back to last writer
// wins otherwise.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for records. It does
// NOT verify one-time codes, send mail, or decide authentication outcomes;
// those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import opentoken or any sibling internal package other than the root helpers.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
