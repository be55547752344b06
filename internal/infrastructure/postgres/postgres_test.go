package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func seedPetition(t *testing.T, pool *pgxpool.Pool) *domain.Petition {
	t.Helper()
	id := ulid.Make().String()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &domain.Petition{
		PetitionID: id, Slug: "p-" + id, Title: "Save the Park", BodyMarkdown: "# Save it",
		Version: "v1", GoalCount: 100, IsLive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, NewPetitionRepo(pool).Put(context.Background(), p))
	return p
}

func newRecord(petitionID, email string) *domain.SignatureRecord {
	id := ulid.Make().String()
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.SignatureRecord{
		SignatureID:        id,
		PetitionID:         petitionID,
		Signer:             domain.Signer{FirstName: "Ada", LastName: "Lovelace", Email: email, State: "NY", Consent: true},
		Artifact:           domain.TypedSignature{Text: "Ada Lovelace"},
		PetitionHash:       "ph",
		SignatureImageHash: "ih",
		AuditHash:          "audit-" + id,
		AuditTimestamp:     now.Format("2006-01-02T15:04:05.000Z"),
		EmailVerifiedAt:    now,
		CreatedAt:          now,
	}
}

func TestPetitionRepo_FindBySlug(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	p := seedPetition(t, pool)
	r := NewPetitionRepo(pool)

	got, err := r.FindBySlug(ctx, p.Slug)
	require.NoError(t, err)
	assert.Equal(t, p.PetitionID, got.PetitionID)
	assert.Equal(t, p.BodyMarkdown, got.BodyMarkdown)

	_, err = r.FindBySlug(ctx, "missing-"+p.Slug)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignatureRepo_UniqueSignerPerPetition(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	p := seedPetition(t, pool)
	r := NewSignatureRepo(pool)

	rec := newRecord(p.PetitionID, "ada@example.com")
	require.NoError(t, r.Insert(ctx, rec))
	assert.ErrorIs(t, r.Insert(ctx, newRecord(p.PetitionID, "ADA@example.com")), domain.ErrConflict)

	ok, err := r.ExistsFor(ctx, "ada@example.com", p.PetitionID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.FindByAuditHash(ctx, rec.AuditHash)
	require.NoError(t, err)
	assert.Equal(t, rec.SignatureID, got.SignatureID)
	assert.Equal(t, domain.TypedSignature{Text: "Ada Lovelace"}, got.Artifact)
	assert.Equal(t, rec.AuditTimestamp, got.AuditTimestamp)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestSignatureRepo_AttachReceipt_KeepsFirst(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	p := seedPetition(t, pool)
	r := NewSignatureRepo(pool)
	rec := newRecord(p.PetitionID, "grace@example.com")
	require.NoError(t, r.Insert(ctx, rec))

	require.NoError(t, r.AttachReceipt(ctx, rec.SignatureID, "receipts/first.html"))
	require.NoError(t, r.AttachReceipt(ctx, rec.SignatureID, "receipts/second.html"))
	got, err := r.FindByID(ctx, rec.SignatureID)
	require.NoError(t, err)
	assert.Equal(t, "receipts/first.html", got.ReceiptKey)

	assert.ErrorIs(t, r.AttachReceipt(ctx, "missing", "k"), domain.ErrNotFound)
}

func TestOTPRepo_MarkConsumed_SingleWinner(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	r := NewOTPRepo(pool)
	now := time.Now().UTC()
	email := ulid.Make().String() + "@example.com"
	req := &domain.OTPRequest{RequestID: ulid.Make().String(), Email: email, CodeHash: "h", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	require.NoError(t, r.Insert(ctx, req))

	got, err := r.FindLatestValid(ctx, email, now)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, got.RequestID)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.MarkConsumed(ctx, req.RequestID, time.Now()) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = r.FindLatestValid(ctx, email, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.MarkConsumed(ctx, "missing", now), domain.ErrNotFound)
}

func TestBlobStore_PutOpen(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	b := NewBlobStore(pool)
	key := "receipts/" + ulid.Make().String() + ".html"

	require.NoError(t, b.Put(ctx, key, []byte("<html></html>")))
	rc, err := b.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	_, err = b.Open(ctx, key+".missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOTPRepo_RecordAttempt_CapsConcurrentGuesses(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	r := NewOTPRepo(pool)
	now := time.Now().UTC()
	email := ulid.Make().String() + "@example.com"
	req := &domain.OTPRequest{RequestID: ulid.Make().String(), Email: email, CodeHash: "h", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	require.NoError(t, r.Insert(ctx, req))

	var counted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.RecordAttempt(ctx, req.RequestID) == nil {
				counted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(domain.MaxOTPAttempts), counted.Load())
	assert.ErrorIs(t, r.RecordAttempt(ctx, req.RequestID), domain.ErrAttemptsExhausted)
	assert.ErrorIs(t, r.RecordAttempt(ctx, "missing"), domain.ErrNotFound)

	_, err := r.FindLatestValid(ctx, email, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignatureRepo_StatsQueries(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	p := seedPetition(t, pool)
	r := NewSignatureRepo(pool)

	first := newRecord(p.PetitionID, "one@example.com")
	require.NoError(t, r.Insert(ctx, first))
	second := newRecord(p.PetitionID, "two@example.com")
	second.Signer.State = "CA"
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	require.NoError(t, r.Insert(ctx, second))

	n, err := r.CountByPetition(ctx, p.PetitionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err := r.RecentByPetition(ctx, p.PetitionID, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.SignerName{{FirstName: "Ada", LastName: "Lovelace", State: "CA"}}, recent)

	byState, err := r.CountByState(ctx, p.PetitionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NY": 1, "CA": 1}, byState)
}
