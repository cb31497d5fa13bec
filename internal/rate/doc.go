// Package rate throttles failed login attempts per account.
//
// Two implementations share the [Limiter] interface: [Local], an in-process
// token bucket per key, and [Redis], a fixed-window counter (INCR plus EXPIRE
// on the first hit) shared across processes.
//
// Callers pass already-hashed keys; raw account ids never reach Redis.
package rate
