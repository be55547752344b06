package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-petition/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PetitionRepo struct {
	pool *pgxpool.Pool
}

func NewPetitionRepo(pool *pgxpool.Pool) *PetitionRepo {
	return &PetitionRepo{pool: pool}
}

const petitionColumns = `petition_id, slug, title, body_markdown, version, goal_count, is_live, created_at, updated_at`

func (r *PetitionRepo) Put(ctx context.Context, p *domain.Petition) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO petitions (`+petitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (petition_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			body_markdown = EXCLUDED.body_markdown,
			version = EXCLUDED.version,
			goal_count = EXCLUDED.goal_count,
			is_live = EXCLUDED.is_live,
			updated_at = EXCLUDED.updated_at`,
		p.PetitionID, p.Slug, p.Title, p.BodyMarkdown, p.Version, p.GoalCount, p.IsLive, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("petition slug %q taken: %w", p.Slug, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("put petition: %w", err)
	}
	return nil
}

func (r *PetitionRepo) FindByID(ctx context.Context, petitionID string) (*domain.Petition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+petitionColumns+` FROM petitions WHERE petition_id = $1`, petitionID)
	return scanPetition(row)
}

func (r *PetitionRepo) FindBySlug(ctx context.Context, slug string) (*domain.Petition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+petitionColumns+` FROM petitions WHERE slug = $1`, slug)
	return scanPetition(row)
}

func scanPetition(row pgx.Row) (*domain.Petition, error) {
	var p domain.Petition
	err := row.Scan(&p.PetitionID, &p.Slug, &p.Title, &p.BodyMarkdown, &p.Version,
		&p.GoalCount, &p.IsLive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("petition not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan petition: %w", err)
	}
	return &p, nil
}
