package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/keyturner/internal/model"

	_ "modernc.org/sqlite"
)

const createPairedDevicesTable = `
CREATE TABLE IF NOT EXISTS paired_devices (
    address           TEXT PRIMARY KEY,
    auth_id           BLOB NOT NULL,
    device_public_key BLOB NOT NULL,
    name              TEXT NOT NULL DEFAULT '',
    nuki_id           TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
)`

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
    id          TEXT PRIMARY KEY,
    address     TEXT NOT NULL,
    action      TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      TEXT,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createOperationEventsTable = `
CREATE TABLE IF NOT EXISTS operation_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    line         TEXT NOT NULL,
    created_at   DATETIME NOT NULL
)`

const createOperationEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_operation_events_operation ON operation_events (operation_id, seq)`

const operationColumns = `id, address, action, status, result, error, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a paired device or operation is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for name, stmt := range map[string]string{
		"paired_devices table":   createPairedDevicesTable,
		"operations table":       createOperationsTable,
		"operation_events table": createOperationEventsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	if _, err := db.Exec(createOperationEventsIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create operation_events index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPairedDevice inserts a paired device or replaces the credentials of an
// existing one with the same address.
func (s *SQLiteStore) UpsertPairedDevice(ctx context.Context, d *model.PairedDevice) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.Address = model.NormalizeAddress(d.Address)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paired_devices (
			address, auth_id, device_public_key, name, nuki_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			auth_id = excluded.auth_id,
			device_public_key = excluded.device_public_key,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE paired_devices.name END,
			nuki_id = CASE WHEN excluded.nuki_id <> '' THEN excluded.nuki_id ELSE paired_devices.nuki_id END,
			updated_at = excluded.updated_at`,
		d.Address, d.AuthID, d.DevicePublicKey, d.Name, d.NukiID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert paired device: %w", err)
	}
	return nil
}

// GetPairedDevice retrieves a paired device by address, ignoring case.
func (s *SQLiteStore) GetPairedDevice(ctx context.Context, address string) (*model.PairedDevice, error) {
	d := &model.PairedDevice{}
	err := s.db.QueryRowContext(ctx,
		`SELECT address, auth_id, device_public_key, name, nuki_id, created_at, updated_at
		FROM paired_devices WHERE address = ?`, model.NormalizeAddress(address),
	).Scan(&d.Address, &d.AuthID, &d.DevicePublicKey, &d.Name, &d.NukiID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paired device: %w", err)
	}
	return d, nil
}

// ListPairedDevices returns all paired devices in pairing order.
func (s *SQLiteStore) ListPairedDevices(ctx context.Context) ([]*model.PairedDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, auth_id, device_public_key, name, nuki_id, created_at, updated_at
		FROM paired_devices ORDER BY created_at, address`,
	)
	if err != nil {
		return nil, fmt.Errorf("list paired devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.PairedDevice
	for rows.Next() {
		d := &model.PairedDevice{}
		if err := rows.Scan(&d.Address, &d.AuthID, &d.DevicePublicKey, &d.Name, &d.NukiID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan paired device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paired devices: %w", err)
	}
	return devices, nil
}

// UpdateDeviceInfo stores the name and Nuki ID reported by the device.
func (s *SQLiteStore) UpdateDeviceInfo(ctx context.Context, address, name, nukiID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE paired_devices SET name = ?, nuki_id = ?, updated_at = ? WHERE address = ?",
		name, nukiID, time.Now().UTC(), model.NormalizeAddress(address),
	)
	if err != nil {
		return fmt.Errorf("update device info: %w", err)
	}
	return checkAffected(result)
}

// DeletePairedDevice removes a paired device.
func (s *SQLiteStore) DeletePairedDevice(ctx context.Context, address string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM paired_devices WHERE address = ?", model.NormalizeAddress(address),
	)
	if err != nil {
		return fmt.Errorf("delete paired device: %w", err)
	}
	return checkAffected(result)
}

// CreateOperation inserts a new operation record.
func (s *SQLiteStore) CreateOperation(ctx context.Context, op *model.Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (`+operationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Address, op.Action, op.Status, nullJSON(op.Result), op.Error,
		op.DurationMS, op.CreatedAt, op.StartedAt, op.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns a paginated list of operations ordered by created_at DESC,
// along with the total count of all operations.
func (s *SQLiteStore) ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, total, nil
}

// UpdateOperationStatus moves an operation to a new status, enforcing the
// allowed transitions. Moving to running sets started_at; terminal statuses
// set finished_at.
func (s *SQLiteStore) UpdateOperationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM operations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read operation status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx, "UPDATE operations SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx, "UPDATE operations SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE operations SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update operation status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

// UpdateOperation writes the outcome fields of an operation.
func (s *SQLiteStore) UpdateOperation(ctx context.Context, op *model.Operation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, result = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		op.Status, nullJSON(op.Result), op.Error, op.DurationMS, op.StartedAt, op.FinishedAt, op.ID,
	)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	return checkAffected(result)
}

// GetOperationStats aggregates operation counts and the mean duration of
// operations that have one.
func (s *SQLiteStore) GetOperationStats(ctx context.Context) (*OperationStats, error) {
	stats := &OperationStats{
		CountByStatus: make(map[string]int),
		CountByAction: make(map[string]int),
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "action", stats.CountByAction); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM operations WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// countBy fills counts with COUNT(*) grouped by column. column is never user input.
func (s *SQLiteStore) countBy(ctx context.Context, column string, counts map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM operations GROUP BY "+column,
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		counts[key] = n
	}
	return rows.Err()
}

// InsertEvent persists one progress line of an operation.
func (s *SQLiteStore) InsertEvent(ctx context.Context, operationID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO operation_events (operation_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		operationID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert operation event: %w", err)
	}
	return nil
}

// GetEvents returns the progress lines of an operation ordered by seq.
func (s *SQLiteStore) GetEvents(ctx context.Context, operationID string) ([]model.OperationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, seq, line, created_at
		FROM operation_events WHERE operation_id = ? ORDER BY seq`, operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get operation events: %w", err)
	}
	defer rows.Close()

	var events []model.OperationEvent
	for rows.Next() {
		var e model.OperationEvent
		if err := rows.Scan(&e.ID, &e.OperationID, &e.Seq, &e.Line, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*model.Operation, error) {
	op := &model.Operation{}
	var result sql.NullString
	if err := row.Scan(
		&op.ID, &op.Address, &op.Action, &op.Status, &result, &op.Error,
		&op.DurationMS, &op.CreatedAt, &op.StartedAt, &op.FinishedAt,
	); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		op.Result = json.RawMessage(result.String)
	}
	return op, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
