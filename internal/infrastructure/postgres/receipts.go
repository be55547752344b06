package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-petition/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlobStore keeps receipt bodies in the receipts table so a Postgres
// deployment needs no object store.
type BlobStore struct {
	pool *pgxpool.Pool
}

func NewBlobStore(pool *pgxpool.Pool) *BlobStore {
	return &BlobStore{pool: pool}
}

func (b *BlobStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO receipts (key, body) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body`, key, body)
	if err != nil {
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	return nil
}

func (b *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	var body []byte
	err := b.pool.QueryRow(ctx, `SELECT body FROM receipts WHERE key = $1`, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}
