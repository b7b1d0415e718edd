// Package dispatch provides the serialized job dispatcher that owns the radio.
// A Dispatcher runs a single worker goroutine that executes submitted Work
// strictly one job at a time, in submission order, and reports each outcome
// through a Handle the submitter can wait on from its own goroutine.
package dispatch
