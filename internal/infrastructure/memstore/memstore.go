// Package memstore keeps petitions, signatures, OTP requests and receipt
// blobs in process memory. It enforces the same uniqueness and
// single-consume rules as the persistent stores, but only within one process.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-petition/internal/domain"
)

// PetitionRepo is an in-memory petition store.
type PetitionRepo struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Petition
	bySlug map[string]string
}

func NewPetitionRepo() *PetitionRepo {
	return &PetitionRepo{byID: map[string]*domain.Petition{}, bySlug: map[string]string{}}
}

func (r *PetitionRepo) Put(_ context.Context, p *domain.Petition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.PetitionID] = &cp
	r.bySlug[p.Slug] = p.PetitionID
	return nil
}

func (r *PetitionRepo) FindBySlug(_ context.Context, slug string) (*domain.Petition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("petition not found: %w", domain.ErrNotFound)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *PetitionRepo) FindByID(_ context.Context, petitionID string) (*domain.Petition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[petitionID]
	if !ok {
		return nil, fmt.Errorf("petition not found: %w", domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// SignatureRepo is an in-memory signature store with a unique
// (email, petition) index and a unique audit hash index.
type SignatureRepo struct {
	mu       sync.RWMutex
	byID     map[string]*domain.SignatureRecord
	byAudit  map[string]string
	bySigner map[string]string
}

func NewSignatureRepo() *SignatureRepo {
	return &SignatureRepo{
		byID:     map[string]*domain.SignatureRecord{},
		byAudit:  map[string]string{},
		bySigner: map[string]string{},
	}
}

func signerKey(email, petitionID string) string {
	return petitionID + "#" + strings.ToLower(email)
}

func (r *SignatureRepo) Insert(_ context.Context, rec *domain.SignatureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sk := signerKey(rec.Signer.Email, rec.PetitionID)
	if _, ok := r.bySigner[sk]; ok {
		return fmt.Errorf("signature exists for signer: %w", domain.ErrConflict)
	}
	if _, ok := r.byAudit[rec.AuditHash]; ok {
		return fmt.Errorf("audit hash exists: %w", domain.ErrConflict)
	}
	if _, ok := r.byID[rec.SignatureID]; ok {
		return fmt.Errorf("signature id exists: %w", domain.ErrConflict)
	}
	cp := *rec
	r.byID[rec.SignatureID] = &cp
	r.byAudit[rec.AuditHash] = rec.SignatureID
	r.bySigner[sk] = rec.SignatureID
	return nil
}

func (r *SignatureRepo) ExistsFor(_ context.Context, email, petitionID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySigner[signerKey(email, petitionID)]
	return ok, nil
}

func (r *SignatureRepo) FindByAuditHash(_ context.Context, auditHash string) (*domain.SignatureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAudit[auditHash]
	if !ok {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *SignatureRepo) FindByID(_ context.Context, signatureID string) (*domain.SignatureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[signatureID]
	if !ok {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// AttachReceipt sets the receipt key once; later calls keep the first key.
func (r *SignatureRepo) AttachReceipt(_ context.Context, signatureID, receiptKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[signatureID]
	if !ok {
		return fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	if rec.ReceiptKey == "" {
		rec.ReceiptKey = receiptKey
	}
	return nil
}

func (r *SignatureRepo) ListPendingReceipts(_ context.Context, limit int) ([]domain.SignatureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SignatureRecord
	for _, rec := range r.byID {
		if rec.ReceiptKey == "" {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SignatureRepo) CountByPetition(_ context.Context, petitionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.byID {
		if rec.PetitionID == petitionID {
			n++
		}
	}
	return n, nil
}

// RecentByPetition returns the newest signers' names and states.
func (r *SignatureRepo) RecentByPetition(_ context.Context, petitionID string, limit int) ([]domain.SignerName, error) {
	r.mu.RLock()
	var recs []*domain.SignatureRecord
	for _, rec := range r.byID {
		if rec.PetitionID == petitionID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]domain.SignerName, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.SignerName{FirstName: rec.Signer.FirstName, LastName: rec.Signer.LastName, State: rec.Signer.State})
	}
	r.mu.RUnlock()
	return out, nil
}

func (r *SignatureRepo) CountByState(_ context.Context, petitionID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, rec := range r.byID {
		if rec.PetitionID == petitionID && rec.Signer.State != "" {
			out[rec.Signer.State]++
		}
	}
	return out, nil
}

// OTPRepo is an in-memory OTP request store.
type OTPRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.OTPRequest
}

func NewOTPRepo() *OTPRepo {
	return &OTPRepo{byID: map[string]*domain.OTPRequest{}}
}

func (r *OTPRepo) Insert(_ context.Context, req *domain.OTPRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[req.RequestID]; ok {
		return fmt.Errorf("otp request exists: %w", domain.ErrConflict)
	}
	cp := *req
	r.byID[req.RequestID] = &cp
	return nil
}

func (r *OTPRepo) FindLatestValid(_ context.Context, email string, now time.Time) (*domain.OTPRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.OTPRequest
	for _, req := range r.byID {
		if req.Email != email || !req.Usable(now) {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) ||
			(req.CreatedAt.Equal(latest.CreatedAt) && req.RequestID > latest.RequestID) {
			latest = req
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

// MarkConsumed sets consumed_at only if it is unset.
func (r *OTPRepo) MarkConsumed(_ context.Context, requestID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[requestID]
	if !ok {
		return fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	if req.ConsumedAt != nil {
		return domain.ErrAlreadyConsumed
	}
	t := at
	req.ConsumedAt = &t
	return nil
}

// RecordAttempt counts one verification attempt while any are left.
func (r *OTPRepo) RecordAttempt(_ context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[requestID]
	if !ok {
		return fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
	}
	if req.ConsumedAt != nil || req.Attempts >= domain.MaxOTPAttempts {
		return domain.ErrAttemptsExhausted
	}
	req.Attempts++
	return nil
}

func (r *OTPRepo) Delete(_ context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, requestID)
	return nil
}

// DeleteExpired removes requests that expired before cutoff.
func (r *OTPRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, req := range r.byID {
		if req.ExpiresAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// BlobStore is an in-memory object store for receipts.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: map[string][]byte{}}
}

func (b *BlobStore) Put(_ context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), body...)
	return nil
}

func (b *BlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	body, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}
