package pgstore

import (
	"context"
	"database/sql"

	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/artphone/go/internal/sqlutil"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the statements behind the store, bound to a pool or a tx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const getValue = `SELECT (SELECT value FROM room_state WHERE path = $1)`

// GetValue returns nil when the path does not exist.
func (q *Queries) GetValue(ctx context.Context, path string) ([]byte, error) {
	var value pqtype.NullRawMessage
	if err := q.db.QueryRowContext(ctx, getValue, path).Scan(&value); err != nil {
		return nil, err
	}
	return sqlutil.FromNullJSON(value), nil
}

const listPrefix = `
SELECT path, value FROM room_state
WHERE path = $1 OR starts_with(path, $1 || '/')
ORDER BY path`

func (q *Queries) ListPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := q.db.QueryContext(ctx, listPrefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			path  string
			value pqtype.NullRawMessage
		)
		if err := rows.Scan(&path, &value); err != nil {
			return nil, err
		}
		out[path] = sqlutil.FromNullJSON(value)
	}
	return out, rows.Err()
}

const lockPath = `SELECT pg_advisory_xact_lock(hashtext($1))`

func (q *Queries) LockPath(ctx context.Context, path string) error {
	_, err := q.db.ExecContext(ctx, lockPath, path)
	return err
}

const pathAbsent = `SELECT NOT EXISTS (SELECT 1 FROM room_state WHERE path = $1)`

func (q *Queries) PathAbsent(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, pathAbsent, path).Scan(&ok)
	return ok, err
}

const pathEquals = `SELECT EXISTS (SELECT 1 FROM room_state WHERE path = $1 AND value = $2::jsonb)`

// PathEquals compares as jsonb, so formatting differences do not matter.
func (q *Queries) PathEquals(ctx context.Context, path string, expect []byte) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, pathEquals, path, sqlutil.ToNullJSON(expect)).Scan(&ok)
	return ok, err
}

const upsertValue = `
INSERT INTO room_state (path, value, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

func (q *Queries) UpsertValue(ctx context.Context, path string, value []byte) error {
	_, err := q.db.ExecContext(ctx, upsertValue, path, sqlutil.ToNullJSON(value))
	return err
}

const deleteValue = `DELETE FROM room_state WHERE path = $1`

func (q *Queries) DeleteValue(ctx context.Context, path string) error {
	_, err := q.db.ExecContext(ctx, deleteValue, path)
	return err
}

const notifyChange = `SELECT pg_notify($1, $2)`

// NotifyChange is delivered to listeners only when the surrounding tx commits.
func (q *Queries) NotifyChange(ctx context.Context, channel, path string) error {
	_, err := q.db.ExecContext(ctx, notifyChange, channel, path)
	return err
}
