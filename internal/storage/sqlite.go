package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/bunchhieng/vview/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

// DB is an SQLite database holding any number of collections.
type DB struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dbPath and brings its
// schema up to date. ":memory:" opens a private in-memory database.
func Open(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	var dsn string
	if dbPath == ":memory:" {
		dsn = dbPath + "?_pragma=journal_mode(DELETE)&_pragma=synchronous(NORMAL)"
	} else {
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(context.Background(), db, migrationsFS, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

type indexRow struct {
	Name string `db:"index_name"`
	Path string `db:"path"`
}

type recordRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Register declares a collection. Indexes that are new or whose path changed
// are rebuilt from the stored records; indexes no longer declared are dropped.
func (d *DB) Register(ctx context.Context, schema Schema) (*SQLiteStore, error) {
	if schema.Name == "" {
		return nil, fmt.Errorf("register store: empty name")
	}
	s := &SQLiteStore{
		db:     d.db,
		schema: schema,
		logger: d.logger.With("store", schema.Name),
	}

	err := s.DBOp(ctx, func(t Tx) error {
		tx := t.(*sqliteTx).tx

		var existing []indexRow
		if err := tx.SelectContext(ctx, &existing,
			"SELECT index_name, path FROM kv_indexes WHERE store = ?", schema.Name); err != nil {
			return fmt.Errorf("list indexes: %w", err)
		}
		known := make(map[string]string, len(existing))
		for _, row := range existing {
			known[row.Name] = row.Path
		}

		declared := make(map[string]bool, len(schema.Indexes))
		for _, idx := range schema.Indexes {
			declared[idx.Name] = true
			if path, ok := known[idx.Name]; ok && path == idx.Path {
				continue
			}
			if err := s.rebuildIndex(ctx, tx, idx); err != nil {
				return err
			}
		}

		for name := range known {
			if declared[name] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM kv_index_entries WHERE store = ? AND index_name = ?", schema.Name, name); err != nil {
				return fmt.Errorf("drop index %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM kv_indexes WHERE store = ? AND index_name = ?", schema.Name, name); err != nil {
				return fmt.Errorf("drop index %s: %w", name, err)
			}
			s.logger.Info("dropped index", "index", name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register store %s: %w", schema.Name, err)
	}
	return s, nil
}

func (s *SQLiteStore) rebuildIndex(ctx context.Context, tx *sqlx.Tx, idx Index) error {
	name := s.schema.Name
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM kv_index_entries WHERE store = ? AND index_name = ?", name, idx.Name); err != nil {
		return fmt.Errorf("clear index %s: %w", idx.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kv_indexes (store, index_name, path) VALUES (?, ?, ?) "+
			"ON CONFLICT (store, index_name) DO UPDATE SET path = excluded.path",
		name, idx.Name, idx.Path); err != nil {
		return fmt.Errorf("record index %s: %w", idx.Name, err)
	}

	var rows []recordRow
	if err := tx.SelectContext(ctx, &rows,
		"SELECT key, value FROM kv_records WHERE store = ?", name); err != nil {
		return fmt.Errorf("scan records for index %s: %w", idx.Name, err)
	}
	for _, row := range rows {
		if err := s.insertIndexEntry(ctx, tx, idx, row.Key, row.Value); err != nil {
			return err
		}
	}
	s.logger.Info("built index", "index", idx.Name, "records", len(rows))
	return nil
}

// SQLiteStore implements Store for one collection of a DB.
type SQLiteStore struct {
	db     *sqlx.DB
	schema Schema
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Name returns the collection name.
func (s *SQLiteStore) Name() string {
	return s.schema.Name
}

// DBOp runs fn in a single transaction, committing if fn returns nil.
func (s *SQLiteStore) DBOp(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return model.Cancelled(err)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrapErr(ctx, "begin transaction", err)
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx, store: s}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrapErr(ctx, "commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) wrapErr(ctx context.Context, action string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Cancelled(ctxErr)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// Get returns the value stored under key, or model.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.DBOp(ctx, func(tx Tx) error {
		var err error
		value, err = tx.Get(key)
		return err
	})
	return value, err
}

// Set stores value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	return s.DBOp(ctx, func(tx Tx) error {
		return tx.Set(key, value)
	})
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.DBOp(ctx, func(tx Tx) error {
		return tx.Delete(key)
	})
}

// MultiGet returns the values for keys in order, with nil for missing keys.
func (s *SQLiteStore) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	err := s.DBOp(ctx, func(t Tx) error {
		tx := t.(*sqliteTx).tx
		query, args, err := sqlx.In(
			"SELECT key, value FROM kv_records WHERE store = ? AND key IN (?)", s.schema.Name, keys)
		if err != nil {
			return fmt.Errorf("build multi-get query: %w", err)
		}
		var rows []recordRow
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("multi-get: %w", err)
		}
		found := make(map[string][]byte, len(rows))
		for _, row := range rows {
			found[row.Key] = row.Value
		}
		for i, key := range keys {
			values[i] = found[key]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// MultiSet stores all entries in one transaction.
func (s *SQLiteStore) MultiSet(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.DBOp(ctx, func(tx Tx) error {
		for _, e := range entries {
			if err := tx.Set(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// MultiDelete removes all keys in one transaction.
func (s *SQLiteStore) MultiDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.DBOp(ctx, func(t Tx) error {
		tx := t.(*sqliteTx).tx
		for _, table := range []string{"kv_index_entries", "kv_records"} {
			query, args, err := sqlx.In(
				"DELETE FROM "+table+" WHERE store = ? AND key IN (?)", s.schema.Name, keys)
			if err != nil {
				return fmt.Errorf("build multi-delete query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
				return fmt.Errorf("multi-delete from %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) hasIndex(name string) bool {
	for _, idx := range s.schema.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) insertIndexEntry(ctx context.Context, tx *sqlx.Tx, idx Index, key string, value []byte) error {
	r := gjson.GetBytes(value, idx.Path)
	if !r.Exists() {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kv_index_entries (store, index_name, index_key, key) VALUES (?, ?, ?, ?)",
		s.schema.Name, idx.Name, indexValue(r), key); err != nil {
		return fmt.Errorf("index %s for %s: %w", idx.Name, key, err)
	}
	return nil
}

// indexValue converts a JSON value into something SQLite orders sensibly:
// numbers before strings, numbers numerically.
func indexValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Number:
		if r.Num == math.Trunc(r.Num) && math.Abs(r.Num) < 1<<53 {
			return r.Int()
		}
		return r.Num
	case gjson.String:
		return r.Str
	case gjson.True:
		return 1
	case gjson.False:
		return 0
	default:
		return r.Raw
	}
}

type sqliteTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	store *SQLiteStore
}

func (t *sqliteTx) Get(key string) ([]byte, error) {
	var value []byte
	err := t.tx.GetContext(t.ctx, &value,
		"SELECT value FROM kv_records WHERE store = ? AND key = ?", t.store.schema.Name, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, t.store.wrapErr(t.ctx, "get "+key, err)
	}
	return value, nil
}

func (t *sqliteTx) Set(key string, value []byte) error {
	name := t.store.schema.Name
	if _, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO kv_records (store, key, value) VALUES (?, ?, ?) "+
			"ON CONFLICT (store, key) DO UPDATE SET value = excluded.value",
		name, key, value); err != nil {
		return t.store.wrapErr(t.ctx, "set "+key, err)
	}
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM kv_index_entries WHERE store = ? AND key = ?", name, key); err != nil {
		return t.store.wrapErr(t.ctx, "clear index entries for "+key, err)
	}
	for _, idx := range t.store.schema.Indexes {
		if err := t.store.insertIndexEntry(t.ctx, t.tx, idx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) Delete(key string) error {
	name := t.store.schema.Name
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM kv_index_entries WHERE store = ? AND key = ?", name, key); err != nil {
		return t.store.wrapErr(t.ctx, "delete index entries for "+key, err)
	}
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM kv_records WHERE store = ? AND key = ?", name, key); err != nil {
		return t.store.wrapErr(t.ctx, "delete "+key, err)
	}
	return nil
}
