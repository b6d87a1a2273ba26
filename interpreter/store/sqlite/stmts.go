package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// statements holds the master prepared statements.
type statements struct {
	getDevice    *sql.Stmt
	saveDevice   *sql.Stmt
	deleteDevice *sql.Stmt
	listDevices  *sql.Stmt
	resetDevices *sql.Stmt

	saveNIO   *sql.Stmt
	deleteNIO *sql.Stmt
	listNIOs  *sql.Stmt

	saveCircuit   *sql.Stmt
	deleteCircuit *sql.Stmt
	listCircuits  *sql.Stmt

	saveReservation   *sql.Stmt
	deleteReservation *sql.Stmt
	listReservations  *sql.Stmt
}

const (
	sqlGetDevice = `
		SELECT kind, id, name, console, created_at
		FROM devices
		WHERE kind = ? AND id = ?`

	sqlSaveDevice = `
		INSERT INTO devices (kind, id, name, console, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
		  name = excluded.name,
		  console = excluded.console`

	sqlDeleteDevice = "DELETE FROM devices WHERE kind = ? AND id = ?"

	sqlListDevices = `
		SELECT kind, id, name, console, created_at
		FROM devices
		WHERE kind = ?
		ORDER BY id`

	sqlResetDevices = "DELETE FROM devices WHERE kind = ?"

	sqlSaveNIO = `
		INSERT INTO nios
		(kind, device_id, port, name, lport, rhost, rport,
		 filter_in, filter_out, filter_in_options, filter_out_options)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, device_id, port) DO UPDATE SET
		  name = excluded.name,
		  lport = excluded.lport,
		  rhost = excluded.rhost,
		  rport = excluded.rport,
		  filter_in = excluded.filter_in,
		  filter_out = excluded.filter_out,
		  filter_in_options = excluded.filter_in_options,
		  filter_out_options = excluded.filter_out_options`

	sqlDeleteNIO = "DELETE FROM nios WHERE kind = ? AND device_id = ? AND port = ?"

	sqlListNIOs = `
		SELECT kind, device_id, port, name, lport, rhost, rport,
		       filter_in, filter_out, filter_in_options, filter_out_options
		FROM nios
		WHERE kind = ?
		ORDER BY device_id, port`

	sqlSaveCircuit = `
		INSERT INTO circuits (device_id, in_port, in_dlci, out_port, out_dlci)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id, in_port, in_dlci) DO UPDATE SET
		  out_port = excluded.out_port,
		  out_dlci = excluded.out_dlci`

	sqlDeleteCircuit = "DELETE FROM circuits WHERE device_id = ? AND in_port = ? AND in_dlci = ?"

	sqlListCircuits = `
		SELECT device_id, in_port, in_dlci, out_port, out_dlci
		FROM circuits
		ORDER BY device_id, in_port, in_dlci`

	sqlSaveReservation = `
		INSERT INTO udp_reservations (kind, port, device_id)
		VALUES (?, ?, ?)
		ON CONFLICT(kind, port) DO UPDATE SET device_id = excluded.device_id`

	sqlDeleteReservation = "DELETE FROM udp_reservations WHERE kind = ? AND port = ?"

	sqlListReservations = `
		SELECT kind, port, device_id
		FROM udp_reservations
		WHERE kind = ?
		ORDER BY port`
)

// fields returns pointers to every statement slot paired with its SQL.
func (st *statements) fields() []struct {
	stmt **sql.Stmt
	name string
	sql  string
} {
	return []struct {
		stmt **sql.Stmt
		name string
		sql  string
	}{
		{&st.getDevice, "GetDevice", sqlGetDevice},
		{&st.saveDevice, "SaveDevice", sqlSaveDevice},
		{&st.deleteDevice, "DeleteDevice", sqlDeleteDevice},
		{&st.listDevices, "ListDevices", sqlListDevices},
		{&st.resetDevices, "ResetDevices", sqlResetDevices},
		{&st.saveNIO, "SaveNIO", sqlSaveNIO},
		{&st.deleteNIO, "DeleteNIO", sqlDeleteNIO},
		{&st.listNIOs, "ListNIOs", sqlListNIOs},
		{&st.saveCircuit, "SaveCircuit", sqlSaveCircuit},
		{&st.deleteCircuit, "DeleteCircuit", sqlDeleteCircuit},
		{&st.listCircuits, "ListCircuits", sqlListCircuits},
		{&st.saveReservation, "SaveReservation", sqlSaveReservation},
		{&st.deleteReservation, "DeleteReservation", sqlDeleteReservation},
		{&st.listReservations, "ListReservations", sqlListReservations},
	}
}

// prepare compiles every statement against db.
func (st *statements) prepare(ctx context.Context, db *sql.DB) error {
	for _, f := range st.fields() {
		stmt, err := db.PrepareContext(ctx, f.sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", f.name, err)
		}
		*f.stmt = stmt
	}
	return nil
}

// bind returns transaction-bound handles for every statement.
func (st *statements) bind(ctx context.Context, tx *sql.Tx) statements {
	var out statements
	src := st.fields()
	for i, f := range out.fields() {
		*f.stmt = tx.StmtContext(ctx, *src[i].stmt)
	}
	return out
}

// close closes every prepared statement. Errors are ignored because
// the database is about to be closed.
func (st *statements) close() {
	for _, f := range st.fields() {
		if *f.stmt != nil {
			(*f.stmt).Close()
			*f.stmt = nil
		}
	}
}
