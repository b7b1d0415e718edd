// Package device defines the boundary between the lock service and the radio
// hardware: a Radio discovers locks and opens Sessions, and a Session carries
// the keyturner command set (pair, state, lock, unlock, unlatch). It also holds
// the lock state vocabulary reported back to clients and the registry that
// resolves a configured radio driver by name.
package device
