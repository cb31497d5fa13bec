// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunRegister, RunSecure, RunConfirm, RunLogin, ...) takes
// a [Deps] value and composes the record stores, the one-time-code provider,
// the mailer and the limiter. The engine owns those resources; flows hold no
// state between calls.
//
// # Error mapping
//
// Flows return the host sentinels passed in [Errors]. Store failures are
// wrapped with Errors.Storage; absent or expired records map to the sentinel
// the caller chose, so unauthenticated callers cannot tell "missing" from
// "wrong".
//
// # What this package must NOT do
//
//   - Import the root opentoken package.
//   - Reveal which login factor failed.
package flows
