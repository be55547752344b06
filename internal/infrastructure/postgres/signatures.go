package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-petition/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SignatureRepo stores signatures. The unique indexes on
// (petition_id, lower(email)) and audit_hash reject a second signature.
type SignatureRepo struct {
	pool *pgxpool.Pool
}

func NewSignatureRepo(pool *pgxpool.Pool) *SignatureRepo {
	return &SignatureRepo{pool: pool}
}

const signatureColumns = `signature_id, petition_id, first_name, last_name, email, city, state, zip, country,
	comment, consent, method, signature_image, typed_signature, petition_hash, signature_image_hash,
	audit_hash, audit_timestamp, ip, user_agent, email_verified_at, created_at, receipt_key`

func (r *SignatureRepo) Insert(ctx context.Context, rec *domain.SignatureRecord) error {
	var (
		method string
		image  []byte
		typed  *string
	)
	switch a := rec.Artifact.(type) {
	case domain.DrawnSignature:
		method, image = string(domain.MethodDrawn), a.Image
	case domain.TypedSignature:
		method, typed = string(domain.MethodTyped), &a.Text
	default:
		return fmt.Errorf("signature %s has no artifact: %w", rec.SignatureID, domain.ErrBadRequest)
	}
	s := rec.Signer
	_, err := r.pool.Exec(ctx, `INSERT INTO signatures (`+signatureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		rec.SignatureID, rec.PetitionID, s.FirstName, s.LastName, s.Email, s.City, s.State, s.Zip, s.Country,
		s.Comment, s.Consent, method, image, typed, rec.PetitionHash, rec.SignatureImageHash,
		rec.AuditHash, rec.AuditTimestamp, rec.IP, rec.UserAgent, rec.EmailVerifiedAt, rec.CreatedAt, nullable(rec.ReceiptKey))
	if isUniqueViolation(err) {
		return fmt.Errorf("signature exists: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (r *SignatureRepo) ExistsFor(ctx context.Context, email, petitionID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM signatures WHERE petition_id = $1 AND lower(email) = lower($2))`,
		petitionID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signature: %w", err)
	}
	return exists, nil
}

func (r *SignatureRepo) FindByID(ctx context.Context, signatureID string) (*domain.SignatureRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE signature_id = $1`, signatureID)
	return scanSignature(row)
}

func (r *SignatureRepo) FindByAuditHash(ctx context.Context, auditHash string) (*domain.SignatureRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE audit_hash = $1`, auditHash)
	return scanSignature(row)
}

// AttachReceipt sets the receipt key once; later calls keep the first key.
func (r *SignatureRepo) AttachReceipt(ctx context.Context, signatureID, receiptKey string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE signatures SET receipt_key = $2 WHERE signature_id = $1 AND receipt_key IS NULL`,
		signatureID, receiptKey)
	if err != nil {
		return fmt.Errorf("attach receipt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, signatureID); err != nil {
		return err
	}
	return nil
}

func (r *SignatureRepo) ListPendingReceipts(ctx context.Context, limit int) ([]domain.SignatureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+signatureColumns+` FROM signatures
		WHERE receipt_key IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending receipts: %w", err)
	}
	return collectSignatures(rows)
}

func (r *SignatureRepo) CountByPetition(ctx context.Context, petitionID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM signatures WHERE petition_id = $1`, petitionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signatures: %w", err)
	}
	return n, nil
}

// RecentByPetition selects only name and state columns, newest first.
func (r *SignatureRepo) RecentByPetition(ctx context.Context, petitionID string, limit int) ([]domain.SignerName, error) {
	rows, err := r.pool.Query(ctx, `SELECT first_name, last_name, state FROM signatures
		WHERE petition_id = $1 ORDER BY created_at DESC LIMIT $2`, petitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent signers: %w", err)
	}
	defer rows.Close()
	var out []domain.SignerName
	for rows.Next() {
		var n domain.SignerName
		if err := rows.Scan(&n.FirstName, &n.LastName, &n.State); err != nil {
			return nil, fmt.Errorf("scan recent signer: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent signers: %w", err)
	}
	return out, nil
}

func (r *SignatureRepo) CountByState(ctx context.Context, petitionID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, count(*) FROM signatures
		WHERE petition_id = $1 AND state <> '' GROUP BY state`, petitionID)
	if err != nil {
		return nil, fmt.Errorf("count signatures by state: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return out, nil
}

func collectSignatures(rows pgx.Rows) ([]domain.SignatureRecord, error) {
	defer rows.Close()
	var out []domain.SignatureRecord
	for rows.Next() {
		rec, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signatures: %w", err)
	}
	return out, nil
}

func scanSignature(row pgx.Row) (*domain.SignatureRecord, error) {
	var (
		rec        domain.SignatureRecord
		method     string
		image      []byte
		typed      *string
		receiptKey *string
	)
	s := &rec.Signer
	err := row.Scan(&rec.SignatureID, &rec.PetitionID, &s.FirstName, &s.LastName, &s.Email, &s.City, &s.State,
		&s.Zip, &s.Country, &s.Comment, &s.Consent, &method, &image, &typed, &rec.PetitionHash,
		&rec.SignatureImageHash, &rec.AuditHash, &rec.AuditTimestamp, &rec.IP, &rec.UserAgent,
		&rec.EmailVerifiedAt, &rec.CreatedAt, &receiptKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan signature: %w", err)
	}
	text := ""
	if typed != nil {
		text = *typed
	}
	rec.Artifact, err = domain.ArtifactFromStored(method, image, text)
	if err != nil {
		return nil, fmt.Errorf("signature %s: %w", rec.SignatureID, err)
	}
	if receiptKey != nil {
		rec.ReceiptKey = *receiptKey
	}
	rec.EmailVerifiedAt = rec.EmailVerifiedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
