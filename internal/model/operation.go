package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Operation status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Operation action constants.
const (
	ActionScan    = "scan"
	ActionPair    = "pair"
	ActionLock    = "lock"
	ActionUnlock  = "unlock"
	ActionUnlatch = "unlatch"
	ActionState   = "state"
	ActionRefresh = "refresh"
)

// DeviceActions are the actions that may be requested asynchronously
// against a single paired device.
var DeviceActions = []string{ActionLock, ActionUnlock, ActionUnlatch, ActionState}

// IsDeviceAction reports whether action is one of DeviceActions.
func IsDeviceAction(action string) bool {
	for _, a := range DeviceActions {
		if a == action {
			return true
		}
	}
	return false
}

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is final.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// NormalizeAddress canonicalizes a BLE MAC address for storage and comparison.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Operation records one device operation carried out through the dispatcher.
type Operation struct {
	ID         string          `json:"id"`
	Address    string          `json:"address,omitempty"`
	Action     string          `json:"action"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS *int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// OperationEvent is a single persisted progress line of an operation.
type OperationEvent struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id"`
	Seq         int       `json:"seq"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}

// PairedDevice is a lock the bridge holds credentials for. The credentials
// never leave the store.
type PairedDevice struct {
	Address         string    `json:"address"`
	AuthID          []byte    `json:"-"`
	DevicePublicKey []byte    `json:"-"`
	Name            string    `json:"name"`
	NukiID          string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
