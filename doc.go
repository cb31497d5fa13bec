// Package opentoken is an account and token service core: email
// registration secured by a client-side password hash and TOTP/HOTP,
// challenge-response login, HMAC-signed request authentication, and a small
// per-account token store.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// opentoken is the public surface. It exposes [Engine], [Builder], [Config],
// and value types ([Registration], [Session], [Token], MetricsSnapshot).
// Flow orchestration, record encoding, rate limiting and audit dispatch live
// under internal/ and are never exported. Records are kept behind the
// [store.Store] interface; engines under store/ provide memory, Redis, S3,
// Postgres and SQLite backends.
//
// # Passwords
//
// The server never sees a password. Register returns the hash parameters the
// client applies before Secure, and every login proves knowledge of that
// hash by answering a single-use challenge with [ChallengeResponse].
package opentoken
