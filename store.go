// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// DefaultBusyTimeout is the SQLite busy timeout used when [StoreOptions]
// does not override it.
const DefaultBusyTimeout = 5 * time.Second

// Store is the persistent key-value store backing ctx.store. It owns a
// single SQLite connection; at most one operation progresses at a time and
// a scripted update holds the connection for its whole transaction.
type Store struct {
	conn        *sqlite.Conn
	busyTimeout time.Duration

	// sem serializes access to conn. Acquisition waits at most 80% of the
	// busy timeout so in-process contention surfaces before SQLite's own
	// busy handler would.
	sem chan struct{}
}

// StoreOptions configures [OpenStore].
type StoreOptions struct {
	// BusyTimeout overrides DefaultBusyTimeout when positive.
	BusyTimeout time.Duration
	// SkipMigrations leaves the schema untouched. Reads against an
	// unmigrated database fail with store_backend.
	SkipMigrations bool
}

// StoreRecord is the metadata of one stored value. The payload itself is
// intentionally not included.
type StoreRecord struct {
	Name      string
	Size      int64
	TypeHint  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateKey names one key participating in a scripted update, optionally
// with a default used when the key is absent.
type UpdateKey struct {
	Name       string
	Default    Value
	HasDefault bool
}

// OpenStore opens (creating if needed) the store database at path and runs
// pending schema migrations.
func OpenStore(ctx context.Context, path string, opts *StoreOptions) (*Store, error) {
	if opts == nil {
		opts = new(StoreOptions)
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, WrapError(KindStoreBackend, err)
	}
	s, err := newStore(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Debugf(ctx, "Opened store %s", path)
	return s, nil
}

// OpenMemoryStore opens a fresh in-memory store. Values are lost when the
// store is closed.
func OpenMemoryStore(ctx context.Context) (*Store, error) {
	conn, err := sqlite.OpenConn(":memory:", sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenMemory)
	if err != nil {
		return nil, WrapError(KindStoreBackend, err)
	}
	s, err := newStore(ctx, conn, new(StoreOptions))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func newStore(ctx context.Context, conn *sqlite.Conn, opts *StoreOptions) (*Store, error) {
	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	conn.SetBusyTimeout(busyTimeout)
	if err := prepareStoreConn(conn); err != nil {
		return nil, WrapError(KindStoreBackend, err)
	}
	s := &Store{
		conn:        conn,
		busyTimeout: busyTimeout,
		sem:         make(chan struct{}, 1),
	}
	if !opts.SkipMigrations {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func prepareStoreConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode=wal;", nil); err != nil {
		return fmt.Errorf("enable write-ahead logging: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA synchronous=normal;", nil); err != nil {
		return fmt.Errorf("set synchronous mode: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys=off;", nil); err != nil {
		return fmt.Errorf("disable foreign keys: %v", err)
	}
	return nil
}

// Migrate brings the schema to the latest version. Migrations are
// idempotent; calling Migrate on an up-to-date store is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	schema, err := storeSchema()
	if err != nil {
		return WrapError(KindStoreBackend, err)
	}
	if err := sqlitemigration.Migrate(ctx, s.conn, schema); err != nil {
		return WrapError(KindStoreBackend, err)
	}
	return nil
}

func storeSchema() (sqlitemigration.Schema, error) {
	var schema sqlitemigration.Schema
	for i := 1; ; i++ {
		migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return sqlitemigration.Schema{}, fmt.Errorf("read migrations: %v", err)
		}
		schema.Migrations = append(schema.Migrations, string(migration))
	}
	return schema, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Get reads the value stored under name. The second result reports whether
// the name was present.
func (s *Store) Get(ctx context.Context, name string) (Value, bool, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Null, false, err
	}
	defer unlock()
	return getValue(s.conn, name)
}

func getValue(conn *sqlite.Conn, name string) (Value, bool, error) {
	var payload []byte
	found := false
	err := sqlitex.ExecuteFS(conn, sqlFiles(), "get.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":name": name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			payload = make([]byte, stmt.GetLen("value"))
			stmt.GetBytes("value", payload)
			found = true
			return nil
		},
	})
	if err != nil {
		return Null, false, WrapError(KindStoreBackend, err)
	}
	if !found {
		return Null, false, nil
	}
	v, err := DecodeValue(payload)
	if err != nil {
		return Null, false, err
	}
	return v, true, nil
}

// Put unconditionally writes value under name.
func (s *Store) Put(ctx context.Context, name string, value Value) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return putValue(s.conn, name, value)
}

func putValue(conn *sqlite.Conn, name string, value Value) error {
	payload, err := value.Encode()
	if err != nil {
		return err
	}
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "upsert.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":name":      name,
			":value":     payload,
			":type_hint": value.TypeHint(),
			":size":      value.SizeHint(),
		},
	})
	if err != nil {
		return WrapError(KindStoreBackend, err)
	}
	return nil
}

// Delete removes name and reports whether it existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	err = sqlitex.ExecuteFS(s.conn, sqlFiles(), "delete.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":name": name},
	})
	if err != nil {
		return false, WrapError(KindStoreBackend, err)
	}
	return s.conn.Changes() > 0, nil
}

// List returns the metadata of every stored value, most recently updated
// first.
func (s *Store) List(ctx context.Context) ([]StoreRecord, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var records []StoreRecord
	err = sqlitex.ExecuteFS(s.conn, sqlFiles(), "list.sql", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, StoreRecord{
				Name:      stmt.GetText("name"),
				Size:      stmt.GetInt64("size"),
				TypeHint:  stmt.GetText("type_hint"),
				CreatedAt: parseStoreTime(stmt.GetText("created_at")),
				UpdatedAt: parseStoreTime(stmt.GetText("updated_at")),
			})
			return nil
		},
	})
	if err != nil {
		return nil, WrapError(KindStoreBackend, err)
	}
	return records, nil
}

func parseStoreTime(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Update runs fn inside an exclusive transaction over the keys named in
// spec. Every key is loaded into view (absent keys take their default, or
// null); after fn returns the final value of every spec key is persisted
// and the transaction commits. If fn returns an error the transaction rolls
// back — no spec key is mutated — and the error is returned unchanged.
// Keys fn adds to the view that are not in spec are not persisted.
func (s *Store) Update(ctx context.Context, spec []UpdateKey, fn func(view *Map) error) (err error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	endFn, err := sqlitex.ImmediateTransaction(s.conn)
	if err != nil {
		return WrapError(KindStoreBackend, err)
	}
	defer endFn(&err)

	view := NewMap()
	for _, key := range spec {
		v, found, gerr := getValue(s.conn, key.Name)
		if gerr != nil {
			return gerr
		}
		if !found {
			if key.HasDefault {
				v = key.Default
			} else {
				v = Null
			}
		}
		view.SetString(key.Name, v)
	}

	if err = fn(view); err != nil {
		return err
	}

	for _, key := range spec {
		v, _ := view.GetString(key.Name)
		if perr := putValue(s.conn, key.Name, v); perr != nil {
			err = perr
			return err
		}
	}
	return nil
}

// acquire takes the connection semaphore, waiting at most 80% of the busy
// timeout. It fails with store_backend when another operation (typically a
// scripted update holding its transaction) does not finish in time.
func (s *Store) acquire(ctx context.Context) (unlock func(), err error) {
	wait := s.busyTimeout * 8 / 10
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, WrapError(KindStoreBackend, ctx.Err())
	case <-timer.C:
		return nil, NewError(KindStoreBackend, "database is busy")
	}
}
