// Package engine provides the lock service. Every radio call it makes is a
// job on a single dispatch.Dispatcher, so pairing, scanning and lock commands
// never drive the radio at the same time. Each request is recorded as a
// model.Operation whose progress events are persisted and published to SSE
// subscribers.
package engine
