package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/pkg/hashing"
)

type SignatureStore interface {
	FindByAuditHash(ctx context.Context, auditHash string) (*domain.SignatureRecord, error)
}

type PetitionStore interface {
	FindByID(ctx context.Context, petitionID string) (*domain.Petition, error)
}

type Service interface {
	Verify(ctx context.Context, auditHash string) (*domain.AuditVerification, error)
}

type service struct {
	signatureRepo SignatureStore
	petitionRepo  PetitionStore
}

func NewService(signatureRepo SignatureStore, petitionRepo PetitionStore) Service {
	return &service{signatureRepo: signatureRepo, petitionRepo: petitionRepo}
}

// errNotFound is returned for malformed and unknown hashes alike.
var errNotFound = domain.NewError(domain.ErrNotFound, domain.CodeNotFound, "signature not found or invalid")

// Verify looks a signature up by audit hash and returns only non-identifying
// provenance.
func (s *service) Verify(ctx context.Context, auditHash string) (*domain.AuditVerification, error) {
	h := strings.ToLower(strings.TrimSpace(auditHash))
	if !hashing.IsDigest(h) {
		return nil, errNotFound
	}
	rec, err := s.signatureRepo.FindByAuditHash(ctx, h)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find signature: %w", err)
	}
	p, err := s.petitionRepo.FindByID(ctx, rec.PetitionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find petition: %w", err)
	}

	signedAt, err := time.Parse(hashing.TimestampLayout, rec.AuditTimestamp)
	if err != nil {
		signedAt = rec.CreatedAt
	}
	return &domain.AuditVerification{
		PetitionTitle:   p.Title,
		PetitionVersion: p.Version,
		SignedAt:        signedAt.UTC(),
		City:            rec.Signer.City,
		State:           rec.Signer.State,
		Country:         rec.Signer.Country,
	}, nil
}
