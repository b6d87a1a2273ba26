package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/interpreter/store"
)

func (s *sqliteStore) SaveNIO(ctx context.Context, rec device.NIORecord) error {
	args := []any{
		string(rec.Kind), int64(rec.DeviceID), int64(rec.Port), rec.Name,
		rec.Spec.LPort, rec.Spec.RHost, rec.Spec.RPort,
		rec.Filters.In, rec.Filters.Out, rec.Filters.InOptions, rec.Filters.OutOptions,
	}
	start := time.Now()
	res, err := s.stmts.saveNIO.ExecContext(ctx, args...)
	s.logStmt("SaveNIO", start, args, affected(res), err)
	if err != nil {
		return fmt.Errorf("save nio %s on %s %d port %d: %w", rec.Name, rec.Kind, rec.DeviceID, rec.Port, err)
	}
	return nil
}

func (s *sqliteStore) DeleteNIO(ctx context.Context, kind device.Kind, id hvman.DeviceID, port hvman.PortNumber) error {
	args := []any{string(kind), int64(id), int64(port)}
	start := time.Now()
	res, err := s.stmts.deleteNIO.ExecContext(ctx, args...)
	n := affected(res)
	s.logStmt("DeleteNIO", start, args, n, err)
	if err != nil {
		return fmt.Errorf("delete nio on %s %d port %d: %w", kind, id, port, err)
	}
	if n == 0 {
		return fmt.Errorf("nio on %s %d port %d: %w", kind, id, port, store.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListNIOs(ctx context.Context, kind device.Kind) ([]device.NIORecord, error) {
	args := []any{string(kind)}
	start := time.Now()
	rows, err := s.stmts.listNIOs.QueryContext(ctx, args...)
	if err != nil {
		s.logStmt("ListNIOs", start, args, 0, err)
		return nil, err
	}
	defer rows.Close()

	var out []device.NIORecord
	for rows.Next() {
		var (
			k        string
			id, port int64
			rec      device.NIORecord
		)
		err := rows.Scan(&k, &id, &port, &rec.Name,
			&rec.Spec.LPort, &rec.Spec.RHost, &rec.Spec.RPort,
			&rec.Filters.In, &rec.Filters.Out, &rec.Filters.InOptions, &rec.Filters.OutOptions)
		if err != nil {
			return nil, err
		}
		if rec.Kind, err = device.ParseKind(k); err != nil {
			return nil, err
		}
		rec.DeviceID = hvman.DeviceID(id)
		rec.Port = hvman.PortNumber(port)
		out = append(out, rec)
	}
	err = rows.Err()
	s.logStmt("ListNIOs", start, args, int64(len(out)), err)
	return out, err
}

// SaveCircuit inserts c, replacing any circuit with the same ingress.
func (s *sqliteStore) SaveCircuit(ctx context.Context, id hvman.DeviceID, c hvman.Circuit) error {
	args := []any{int64(id), int64(c.In.Port), int64(c.In.DLCI), int64(c.Out.Port), int64(c.Out.DLCI)}
	start := time.Now()
	res, err := s.stmts.saveCircuit.ExecContext(ctx, args...)
	s.logStmt("SaveCircuit", start, args, affected(res), err)
	if err != nil {
		return fmt.Errorf("save circuit %s on switch %d: %w", c, id, err)
	}
	return nil
}

func (s *sqliteStore) DeleteCircuit(ctx context.Context, id hvman.DeviceID, in hvman.Endpoint) error {
	args := []any{int64(id), int64(in.Port), int64(in.DLCI)}
	start := time.Now()
	res, err := s.stmts.deleteCircuit.ExecContext(ctx, args...)
	n := affected(res)
	s.logStmt("DeleteCircuit", start, args, n, err)
	if err != nil {
		return fmt.Errorf("delete circuit %s on switch %d: %w", in, id, err)
	}
	if n == 0 {
		return fmt.Errorf("circuit %s on switch %d: %w", in, id, store.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListCircuits(ctx context.Context) ([]device.CircuitRecord, error) {
	start := time.Now()
	rows, err := s.stmts.listCircuits.QueryContext(ctx)
	if err != nil {
		s.logStmt("ListCircuits", start, nil, 0, err)
		return nil, err
	}
	defer rows.Close()

	var out []device.CircuitRecord
	for rows.Next() {
		var id, inPort, inDLCI, outPort, outDLCI int64
		if err := rows.Scan(&id, &inPort, &inDLCI, &outPort, &outDLCI); err != nil {
			return nil, err
		}
		out = append(out, device.CircuitRecord{
			DeviceID: hvman.DeviceID(id),
			Circuit: hvman.NewCircuit(
				hvman.PortNumber(inPort), hvman.DLCI(inDLCI),
				hvman.PortNumber(outPort), hvman.DLCI(outDLCI)),
		})
	}
	err = rows.Err()
	s.logStmt("ListCircuits", start, nil, int64(len(out)), err)
	return out, err
}

func (s *sqliteStore) SaveReservation(ctx context.Context, r device.Reservation) error {
	args := []any{string(r.Kind), r.Port, int64(r.DeviceID)}
	start := time.Now()
	res, err := s.stmts.saveReservation.ExecContext(ctx, args...)
	s.logStmt("SaveReservation", start, args, affected(res), err)
	if err != nil {
		return fmt.Errorf("save %s udp reservation %d: %w", r.Kind, r.Port, err)
	}
	return nil
}

func (s *sqliteStore) DeleteReservation(ctx context.Context, kind device.Kind, port int) error {
	args := []any{string(kind), port}
	start := time.Now()
	res, err := s.stmts.deleteReservation.ExecContext(ctx, args...)
	n := affected(res)
	s.logStmt("DeleteReservation", start, args, n, err)
	if err != nil {
		return fmt.Errorf("delete %s udp reservation %d: %w", kind, port, err)
	}
	if n == 0 {
		return fmt.Errorf("%s udp reservation %d: %w", kind, port, store.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListReservations(ctx context.Context, kind device.Kind) ([]device.Reservation, error) {
	args := []any{string(kind)}
	start := time.Now()
	rows, err := s.stmts.listReservations.QueryContext(ctx, args...)
	if err != nil {
		s.logStmt("ListReservations", start, args, 0, err)
		return nil, err
	}
	defer rows.Close()

	var out []device.Reservation
	for rows.Next() {
		var (
			k  string
			r  device.Reservation
			id int64
		)
		if err := rows.Scan(&k, &r.Port, &id); err != nil {
			return nil, err
		}
		if r.Kind, err = device.ParseKind(k); err != nil {
			return nil, err
		}
		r.DeviceID = hvman.DeviceID(id)
		out = append(out, r)
	}
	err = rows.Err()
	s.logStmt("ListReservations", start, args, int64(len(out)), err)
	return out, err
}
