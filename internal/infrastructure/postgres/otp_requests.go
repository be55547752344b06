package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OTPRepo struct {
	pool *pgxpool.Pool
}

func NewOTPRepo(pool *pgxpool.Pool) *OTPRepo {
	return &OTPRepo{pool: pool}
}

func (r *OTPRepo) Insert(ctx context.Context, req *domain.OTPRequest) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO otp_requests
		(request_id, email, code_hash, origin_ip, created_at, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.RequestID, req.Email, req.CodeHash, req.OriginIP, req.CreatedAt, req.ExpiresAt, req.ConsumedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("otp request exists: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert otp request: %w", err)
	}
	return nil
}

// FindLatestValid returns the newest unconsumed, unexpired request for email.
func (r *OTPRepo) FindLatestValid(ctx context.Context, email string, now time.Time) (*domain.OTPRequest, error) {
	var req domain.OTPRequest
	err := r.pool.QueryRow(ctx, `SELECT request_id, email, code_hash, origin_ip, created_at, expires_at, consumed_at, attempts
		FROM otp_requests
		WHERE email = $1 AND consumed_at IS NULL AND expires_at > $2 AND attempts < $3
		ORDER BY created_at DESC, request_id DESC
		LIMIT 1`, email, now, domain.MaxOTPAttempts).
		Scan(&req.RequestID, &req.Email, &req.CodeHash, &req.OriginIP, &req.CreatedAt, &req.ExpiresAt, &req.ConsumedAt, &req.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find otp request: %w", err)
	}
	req.CreatedAtMillis = req.CreatedAt.UnixMilli()
	req.ExpiresAtUnix = req.ExpiresAt.Unix()
	return &req, nil
}

// MarkConsumed sets consumed_at only if it is unset. Of concurrent callers
// exactly one updates the row; the rest get ErrAlreadyConsumed.
func (r *OTPRepo) MarkConsumed(ctx context.Context, requestID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE otp_requests SET consumed_at = $2 WHERE request_id = $1 AND consumed_at IS NULL`,
		requestID, at)
	if err != nil {
		return fmt.Errorf("consume otp request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := r.exists(ctx, requestID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	return domain.ErrAlreadyConsumed
}

// RecordAttempt counts one verification attempt. The increment is
// conditional, so concurrent guesses cannot exceed MaxOTPAttempts in total.
func (r *OTPRepo) RecordAttempt(ctx context.Context, requestID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE otp_requests SET attempts = attempts + 1
		WHERE request_id = $1 AND consumed_at IS NULL AND attempts < $2`,
		requestID, domain.MaxOTPAttempts)
	if err != nil {
		return fmt.Errorf("record otp attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := r.exists(ctx, requestID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	return domain.ErrAttemptsExhausted
}

func (r *OTPRepo) exists(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM otp_requests WHERE request_id = $1)`, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check otp request: %w", err)
	}
	return exists, nil
}

func (r *OTPRepo) Delete(ctx context.Context, requestID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_requests WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("delete otp request: %w", err)
	}
	return nil
}

// DeleteExpired removes requests that expired before cutoff. DynamoDB does
// this with TTL; here the cleanup job calls it.
func (r *OTPRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM otp_requests WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
