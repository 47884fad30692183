package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on a single PostgreSQL table of JSONB documents.
// Increment and UnionAppend run inside transactions with row locks, so the
// store's primitives stay atomic under concurrent clinic terminals.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed document store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the documents table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (collection, key)
		)`)
	if err != nil {
		return fmt.Errorf("migrate documents table: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, collection, key string) (Doc, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return d, nil
}

func (s *PGStore) Set(ctx context.Context, collection, key string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PGStore) Create(ctx context.Context, collection, key string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, key, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO NOTHING`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PGStore) Merge(ctx context.Context, collection, key string, fields Doc) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET data = documents.data || EXCLUDED.data`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PGStore) Update(ctx context.Context, collection, key string, fn UpdateFunc) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT data FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
			collection, key).Scan(&raw)
		var current Doc
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			current = nil
		case err != nil:
			return fmt.Errorf("update %s/%s: %w", collection, key, err)
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("update %s/%s: %w", collection, key, err)
			}
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, key, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
			ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data`,
			collection, key, out)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, key, err)
		}
		return nil
	})
}

func (s *PGStore) Increment(ctx context.Context, collection, key, field string, delta float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, data)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::numeric))
		ON CONFLICT (collection, key) DO UPDATE SET data = jsonb_set(
			documents.data,
			ARRAY[$3::text],
			to_jsonb(COALESCE((documents.data ->> $3::text)::numeric, 0) + $4::numeric),
			true)`,
		collection, key, field, delta)
	if err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, key, field, err)
	}
	return nil
}

func (s *PGStore) UnionAppend(ctx context.Context, collection, key, field string, values ...interface{}) error {
	return s.Update(ctx, collection, key, func(d Doc) (Doc, error) {
		if d == nil {
			d = Doc{}
		}
		existing, _ := d[field].([]interface{})
		for _, v := range values {
			nv := normalize(v)
			if !containsValue(existing, nv) {
				existing = append(existing, nv)
			}
		}
		d[field] = existing
		return d, nil
	})
}

func (s *PGStore) RangeQuery(ctx context.Context, collection, startKey, endKey string) ([]KeyedDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, data FROM documents
		WHERE collection = $1 AND key >= $2 AND key <= $3
		ORDER BY key`,
		collection, startKey, endKey)
	if err != nil {
		return nil, fmt.Errorf("range %s [%s, %s]: %w", collection, startKey, endKey, err)
	}
	defer rows.Close()

	var out []KeyedDoc
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("range %s: %w", collection, err)
		}
		var d Doc
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("range %s: %w", collection, err)
		}
		out = append(out, KeyedDoc{Key: key, Doc: d})
	}
	return out, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}
