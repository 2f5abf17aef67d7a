package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type cursorRow struct {
	Key      string `db:"key"`
	Value    []byte `db:"value"`
	IndexKey any    `db:"index_key"`
}

type sqliteCursor struct {
	ctx    context.Context
	store  *SQLiteStore
	tx     *sqlx.Tx
	rows   *sqlx.Rows
	entry  Entry
	err    error
	closed bool
}

// Cursor opens a cursor over the primary keys, or over opts.Index when set.
func (s *SQLiteStore) Cursor(ctx context.Context, opts CursorOptions) (Cursor, error) {
	if opts.Index != "" && !s.hasIndex(opts.Index) {
		return nil, fmt.Errorf("open cursor: store %s has no index %q", s.schema.Name, opts.Index)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.wrapErr(ctx, "open cursor", err)
	}

	query, args := s.cursorQuery(opts)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, s.wrapErr(ctx, "begin cursor transaction", err)
	}
	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		tx.Rollback()
		return nil, s.wrapErr(ctx, "open cursor", err)
	}
	return &sqliteCursor{ctx: ctx, store: s, tx: tx, rows: rows}, nil
}

func (s *SQLiteStore) cursorQuery(opts CursorOptions) (string, []any) {
	order := "ASC"
	if opts.Direction == Descending {
		order = "DESC"
	}

	var b strings.Builder
	var args []any
	var column string
	if opts.Index == "" {
		b.WriteString("SELECT key, value, NULL AS index_key FROM kv_records WHERE store = ?")
		args = append(args, s.schema.Name)
		column = "key"
	} else {
		b.WriteString("SELECT r.key, r.value, i.index_key FROM kv_index_entries i " +
			"JOIN kv_records r ON r.store = i.store AND r.key = i.key " +
			"WHERE i.store = ? AND i.index_name = ?")
		args = append(args, s.schema.Name, opts.Index)
		column = "i.index_key"
	}

	if r := opts.Range; r != nil {
		if r.Lower != nil {
			op := ">="
			if r.LowerOpen {
				op = ">"
			}
			fmt.Fprintf(&b, " AND %s %s ?", column, op)
			args = append(args, r.Lower)
		}
		if r.Upper != nil {
			op := "<="
			if r.UpperOpen {
				op = "<"
			}
			fmt.Fprintf(&b, " AND %s %s ?", column, op)
			args = append(args, r.Upper)
		}
	}

	if opts.Index == "" {
		fmt.Fprintf(&b, " ORDER BY key %s", order)
	} else {
		fmt.Fprintf(&b, " ORDER BY i.index_key %s, i.key %s", order, order)
	}
	if opts.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	return b.String(), args
}

func (c *sqliteCursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = c.store.wrapErr(c.ctx, "iterate cursor", err)
		}
		c.Close()
		return false
	}
	var row cursorRow
	if err := c.rows.StructScan(&row); err != nil {
		c.err = fmt.Errorf("scan cursor row: %w", err)
		c.Close()
		return false
	}
	c.entry = Entry{Key: row.Key, Value: row.Value, IndexKey: row.IndexKey}
	return true
}

func (c *sqliteCursor) Entry() Entry {
	return c.entry
}

func (c *sqliteCursor) Err() error {
	return c.err
}

func (c *sqliteCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	rowsErr := c.rows.Close()
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("close cursor: %w", err)
	}
	if rowsErr != nil {
		return fmt.Errorf("close cursor: %w", rowsErr)
	}
	return nil
}

// Each calls fn for every entry the cursor yields until fn returns false or
// an error.
func (s *SQLiteStore) Each(ctx context.Context, opts CursorOptions, fn func(Entry) (bool, error)) error {
	cur, err := s.Cursor(ctx, opts)
	if err != nil {
		return err
	}
	defer cur.Close()

	for cur.Next() {
		more, err := fn(cur.Entry())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return cur.Err()
}
