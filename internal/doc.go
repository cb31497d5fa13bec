// Package internal contains helpers that are private to opentoken, mainly
// secure random generation of identifiers, secrets and numeric codes.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - rate: per-account login throttling
//   - stores: versioned records over store.Store (challenges, tokens, accounts, registrations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public opentoken API.
//   - Be imported by any package outside the opentoken module.
package internal
