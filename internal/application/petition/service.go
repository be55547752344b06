package petition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-petition/internal/domain"
)

// recentLimit is how many recent signers Stats exposes.
const recentLimit = 10

type PetitionStore interface {
	FindBySlug(ctx context.Context, slug string) (*domain.Petition, error)
	Put(ctx context.Context, p *domain.Petition) error
}

// SignatureCounter answers the stats queries without loading signature rows.
type SignatureCounter interface {
	CountByPetition(ctx context.Context, petitionID string) (int, error)
	RecentByPetition(ctx context.Context, petitionID string, limit int) ([]domain.SignerName, error)
	CountByState(ctx context.Context, petitionID string) (map[string]int, error)
}

type Service interface {
	Get(ctx context.Context, slug string) (*domain.Petition, error)
	Stats(ctx context.Context, slug string) (*domain.PetitionStats, error)
	Seed(ctx context.Context, p *domain.Petition) error
}

type service struct {
	petitionRepo  PetitionStore
	signatureRepo SignatureCounter
}

func NewService(petitionRepo PetitionStore, signatureRepo SignatureCounter) Service {
	return &service{petitionRepo: petitionRepo, signatureRepo: signatureRepo}
}

func (s *service) Get(ctx context.Context, slug string) (*domain.Petition, error) {
	p, err := s.petitionRepo.FindBySlug(ctx, strings.TrimSpace(slug))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.ErrNotFound, domain.CodePetitionNotFound, "petition not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find petition: %w", err)
	}
	return p, nil
}

// Stats aggregates a petition's signatures. Only first names, last initials
// and states are exposed.
func (s *service) Stats(ctx context.Context, slug string) (*domain.PetitionStats, error) {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	count, err := s.signatureRepo.CountByPetition(ctx, p.PetitionID)
	if err != nil {
		return nil, fmt.Errorf("count signatures: %w", err)
	}
	recent, err := s.signatureRepo.RecentByPetition(ctx, p.PetitionID, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent signers: %w", err)
	}
	byState, err := s.signatureRepo.CountByState(ctx, p.PetitionID)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	if byState == nil {
		byState = map[string]int{}
	}

	stats := &domain.PetitionStats{
		Count:   count,
		Goal:    p.GoalCount,
		Recent:  make([]domain.RecentSigner, 0, len(recent)),
		ByState: byState,
	}
	for _, n := range recent {
		stats.Recent = append(stats.Recent, domain.RecentSigner{
			First:       n.FirstName,
			LastInitial: initial(n.LastName),
			State:       n.State,
		})
	}
	return stats, nil
}

// Seed stores p if no petition with its slug exists yet.
func (s *service) Seed(ctx context.Context, p *domain.Petition) error {
	_, err := s.petitionRepo.FindBySlug(ctx, p.Slug)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("find petition: %w", err)
	}
	return s.petitionRepo.Put(ctx, p)
}

// initial renders a last name as "L.".
func initial(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError {
		return ""
	}
	return strings.ToUpper(string(r)) + "."
}
