package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"
)

// MatrixCache stores gzip-compressed matrix payloads by content key.
type MatrixCache struct {
	db *sql.DB
}

// NewMatrixCache creates a cache on db.
func NewMatrixCache(db *DB) *MatrixCache {
	return &MatrixCache{db: db.DB}
}

// Get returns the decompressed payload for key. ok is false on a miss.
func (c *MatrixCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM matrix_cache WHERE cache_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query matrix cache: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s: %w", key, err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s: %w", key, err)
	}
	return payload, true, nil
}

// Put compresses and stores payload, replacing any entry under key.
func (c *MatrixCache) Put(ctx context.Context, key, dataset, comparison string, payload []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	return retryOnBusy(func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO matrix_cache (cache_key, dataset, comparison, payload, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				dataset = excluded.dataset,
				comparison = excluded.comparison,
				payload = excluded.payload,
				created_at = excluded.created_at`,
			key, dataset, comparison, buf.Bytes(), time.Now().UnixNano(),
		)
		return err
	})
}

// Delete removes the entry under key. Deleting a missing key is not an error.
func (c *MatrixCache) Delete(ctx context.Context, key string) error {
	return retryOnBusy(func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM matrix_cache WHERE cache_key = ?`, key)
		return err
	})
}

// Purge removes every cached entry for a dataset and returns the count.
func (c *MatrixCache) Purge(ctx context.Context, dataset string) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := c.db.ExecContext(ctx, `DELETE FROM matrix_cache WHERE dataset = ?`, dataset)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
