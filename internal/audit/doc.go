// Package audit dispatches security-relevant events asynchronously.
//
// # Components
//
//   - [Sink]: event consumers (no-op, channel, JSON writer, Kafka, fan-out).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full semantics.
//   - [Event]: one registration or account lifecycle step, with its subject
//     kind, client IP and failure reason.
//
// Sinks never see secrets or one-time codes.
package audit
