// Package sqlkv is a single-table, SQL-backed KV: a database/sql
// handle behind the same store.KV capability the in-memory backend
// exposes.
package sqlkv

import (
	"context"
	"database/sql"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/BlockscapeNetwork/nomic/store"
)

// Store is a modernc.org/sqlite-backed KV.
type Store struct {
	db *sql.DB
}

var _ store.KV = (*Store)(nil)

// Open opens (creating if necessary) the sqlite database at path and
// ensures the kv table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (s *Store) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	var rows *sql.Rows
	var err error
	if upper := upperBound(prefix); upper != nil {
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ? AND k < ?`, prefix, upper)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ?`, prefix)
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	type kv struct{ k, v []byte }
	var all []kv
	for rows.Next() {
		var row kv
		if err := rows.Scan(&row.k, &row.v); err != nil {
			return err
		}
		all = append(all, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Slice(all, func(i, j int) bool { return string(all[i].k) < string(all[j].k) })

	for _, row := range all {
		cont, err := fn(row.k, row.v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// upperBound returns the smallest key strictly greater than every key
// sharing prefix, so "k >= prefix AND k < upperBound(prefix)" selects
// exactly the prefix range.
func upperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // prefix is all 0xff: no finite upper bound, caller gets everything above it
}
