// Package sqlite provides a SQLite implementation of the device store.
//
// # Calling Conventions
//
// The store is a pure data access layer with no internal transaction
// management. Methods execute against s.conn, which is either the
// underlying *sql.DB (autocommit) or a *sql.Tx (transactional).
//
// For atomicity across several calls use RunInTransaction:
//
//	err := store.RunInTransaction(ctx, func(tx interpreter.Store) error {
//	    if err := tx.SaveDevice(ctx, rec); err != nil {
//	        return err // rolls back
//	    }
//	    return tx.SaveNIO(ctx, nioRec) // commits if nil
//	})
//
// The manager commits the persistence half of every mutation through
// one transaction, so a failure leaves the database as it was before
// the mutation began.
//
// # Referential Integrity
//
// NIOs, circuits and UDP reservations reference their device with
// ON DELETE CASCADE. Deleting a device row removes everything hanging
// off it; foreign_keys is enabled on every connection.
//
// # Prepared Statements
//
// All SQL is prepared once when the store is opened. RunInTransaction
// rebinds the master statements to the transaction with
// tx.StmtContext, which reuses the compiled statements.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/frobware/go-hvman/interpreter"
)

// msec formats a duration as milliseconds with 3 decimal places.
func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

//go:embed schema.sql
var schemaSQL string

// sqliteStore implements interpreter.Store using SQLite.
type sqliteStore struct {
	db     *sql.DB // original connection, used for BeginTx
	logger *slog.Logger
	stmts  statements
}

var _ interpreter.Store = (*sqliteStore)(nil)

// New opens (creating if needed) the store at dbPath.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (interpreter.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}, {"busy_timeout", "5000"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opened database", "path", dbPath)
	return s, nil
}

// NewInMemory creates an in-memory store for testing.
func NewInMemory(ctx context.Context, logger *slog.Logger) (interpreter.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", ":memory:")

	db, err := sql.Open(driverName, dsn(":memory:", [][2]string{{"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened in-memory database")
	return s, nil
}

func open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*sqliteStore, error) {
	s := &sqliteStore{db: db, logger: logger}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.stmts.prepare(ctx, db); err != nil {
		s.stmts.close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// Close closes all prepared statements and the database connection.
func (s *sqliteStore) Close() error {
	s.stmts.close()
	return s.db.Close()
}

// RunInTransaction executes fn within a database transaction. If fn
// returns nil the transaction commits, otherwise it rolls back.
//
// The transaction-bound store gets handles derived from the master
// statements; they become invalid after commit or rollback, by which
// time the tx store has gone out of scope.
func (s *sqliteStore) RunInTransaction(ctx context.Context, fn func(interpreter.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &sqliteStore{
		db:     s.db,
		logger: s.logger,
		stmts:  s.stmts.bind(ctx, tx),
	}
	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit()
}

// logStmt records one statement execution at debug level.
func (s *sqliteStore) logStmt(name string, start time.Time, args []any, rows int64, err error) {
	if err != nil {
		s.logger.Debug("sql", "stmt", name, "args", args, "duration_ms", msec(time.Since(start)), "error", err)
		return
	}
	s.logger.Debug("sql", "stmt", name, "args", args, "duration_ms", msec(time.Since(start)), "rows", rows)
}
