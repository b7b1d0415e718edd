package store

import (
	"context"
	"errors"

	"github.com/seantiz/keyturner/internal/model"
)

// ErrInvalidTransition is returned when an operation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// OperationStats holds aggregate operation statistics.
type OperationStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByAction map[string]int `json:"count_by_action"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for paired devices and the
// operations carried out against them.
type Store interface {
	UpsertPairedDevice(ctx context.Context, d *model.PairedDevice) error
	GetPairedDevice(ctx context.Context, address string) (*model.PairedDevice, error)
	ListPairedDevices(ctx context.Context) ([]*model.PairedDevice, error)
	UpdateDeviceInfo(ctx context.Context, address, name, nukiID string) error
	DeletePairedDevice(ctx context.Context, address string) error

	CreateOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error)
	UpdateOperationStatus(ctx context.Context, id, status string) error
	UpdateOperation(ctx context.Context, op *model.Operation) error
	GetOperationStats(ctx context.Context) (*OperationStats, error)

	InsertEvent(ctx context.Context, operationID string, seq int, line string) error
	GetEvents(ctx context.Context, operationID string) ([]model.OperationEvent, error)

	Close() error
}
