package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/interpreter/store"
)

// SaveDevice creates or updates a device. created_at is kept from the
// first save.
func (s *sqliteStore) SaveDevice(ctx context.Context, rec device.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	args := []any{string(rec.Kind), int64(rec.ID), rec.Name, rec.Console, createdAt.UTC().Format(time.RFC3339Nano)}

	start := time.Now()
	res, err := s.stmts.saveDevice.ExecContext(ctx, args...)
	s.logStmt("SaveDevice", start, args, affected(res), err)
	if err != nil {
		return fmt.Errorf("save %s %d: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// DeleteDevice removes a device; the schema cascades to its NIOs,
// circuits and reservations.
func (s *sqliteStore) DeleteDevice(ctx context.Context, kind device.Kind, id hvman.DeviceID) error {
	args := []any{string(kind), int64(id)}
	start := time.Now()
	res, err := s.stmts.deleteDevice.ExecContext(ctx, args...)
	n := affected(res)
	s.logStmt("DeleteDevice", start, args, n, err)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

// GetDevice returns store.ErrNotFound if the device does not exist.
func (s *sqliteStore) GetDevice(ctx context.Context, kind device.Kind, id hvman.DeviceID) (device.Record, error) {
	args := []any{string(kind), int64(id)}
	start := time.Now()
	rec, err := scanDevice(s.stmts.getDevice.QueryRowContext(ctx, args...))
	if errors.Is(err, sql.ErrNoRows) {
		s.logStmt("GetDevice", start, args, 0, nil)
		return device.Record{}, fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
	}
	s.logStmt("GetDevice", start, args, 1, err)
	if err != nil {
		return device.Record{}, err
	}
	return rec, nil
}

func (s *sqliteStore) ListDevices(ctx context.Context, kind device.Kind) ([]device.Record, error) {
	args := []any{string(kind)}
	start := time.Now()
	rows, err := s.stmts.listDevices.QueryContext(ctx, args...)
	if err != nil {
		s.logStmt("ListDevices", start, args, 0, err)
		return nil, err
	}
	defer rows.Close()

	var out []device.Record
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	err = rows.Err()
	s.logStmt("ListDevices", start, args, int64(len(out)), err)
	return out, err
}

// ResetKind deletes every device of kind; dependent rows cascade.
func (s *sqliteStore) ResetKind(ctx context.Context, kind device.Kind) error {
	args := []any{string(kind)}
	start := time.Now()
	res, err := s.stmts.resetDevices.ExecContext(ctx, args...)
	s.logStmt("ResetDevices", start, args, affected(res), err)
	if err != nil {
		return fmt.Errorf("reset %s: %w", kind, err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (device.Record, error) {
	var (
		kind, name, createdAt string
		id                    int64
		console               int
	)
	if err := row.Scan(&kind, &id, &name, &console, &createdAt); err != nil {
		return device.Record{}, err
	}
	k, err := device.ParseKind(kind)
	if err != nil {
		return device.Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return device.Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return device.Record{
		Kind:      k,
		ID:        hvman.DeviceID(id),
		Name:      name,
		Console:   console,
		CreatedAt: ts,
	}, nil
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
