package memstore

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPRepo_FindLatestValid_PicksNewestUsable(t *testing.T) {
	ctx := context.Background()
	r := NewOTPRepo()
	now := time.Now()

	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "old", Email: "a@x.com", CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(8 * time.Minute)}))
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "new", Email: "a@x.com", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(9 * time.Minute)}))
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "expired", Email: "a@x.com", CreatedAt: now, ExpiresAt: now.Add(-time.Second)}))

	got, err := r.FindLatestValid(ctx, "a@x.com", now)
	require.NoError(t, err)
	assert.Equal(t, "new", got.RequestID)

	require.NoError(t, r.MarkConsumed(ctx, "new", now))
	got, err = r.FindLatestValid(ctx, "a@x.com", now)
	require.NoError(t, err)
	assert.Equal(t, "old", got.RequestID)

	_, err = r.FindLatestValid(ctx, "b@x.com", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOTPRepo_MarkConsumed_SingleWinner(t *testing.T) {
	ctx := context.Background()
	r := NewOTPRepo()
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "r1", Email: "a@x.com", ExpiresAt: time.Now().Add(time.Minute)}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.MarkConsumed(ctx, "r1", time.Now()) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.ErrorIs(t, r.MarkConsumed(ctx, "r1", time.Now()), domain.ErrAlreadyConsumed)
}

func TestSignatureRepo_UniqueSignerPerPetition(t *testing.T) {
	ctx := context.Background()
	r := NewSignatureRepo()
	rec := &domain.SignatureRecord{SignatureID: "s1", PetitionID: "p1", AuditHash: "h1", Signer: domain.Signer{Email: "a@x.com"}}
	require.NoError(t, r.Insert(ctx, rec))

	dup := &domain.SignatureRecord{SignatureID: "s2", PetitionID: "p1", AuditHash: "h2", Signer: domain.Signer{Email: "A@x.com"}}
	assert.ErrorIs(t, r.Insert(ctx, dup), domain.ErrConflict)

	other := &domain.SignatureRecord{SignatureID: "s3", PetitionID: "p2", AuditHash: "h3", Signer: domain.Signer{Email: "a@x.com"}}
	assert.NoError(t, r.Insert(ctx, other))

	ok, err := r.ExistsFor(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignatureRepo_AttachReceipt_KeepsFirst(t *testing.T) {
	ctx := context.Background()
	r := NewSignatureRepo()
	require.NoError(t, r.Insert(ctx, &domain.SignatureRecord{SignatureID: "s1", PetitionID: "p1", AuditHash: "h1"}))

	pending, err := r.ListPendingReceipts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, r.AttachReceipt(ctx, "s1", "receipts/s1.html"))
	require.NoError(t, r.AttachReceipt(ctx, "s1", "receipts/other.html"))
	got, err := r.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "receipts/s1.html", got.ReceiptKey)

	pending, err = r.ListPendingReceipts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOTPRepo_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	r := NewOTPRepo()
	now := time.Now()
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "old", Email: "a@x.com", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "live", Email: "a@x.com", ExpiresAt: now.Add(time.Minute)}))

	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindLatestValid(ctx, "a@x.com", now)
	require.NoError(t, err)
	assert.Equal(t, "live", got.RequestID)
}

func TestBlobStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore()
	require.NoError(t, b.Put(ctx, "receipts/s1.html", []byte("<p>hi</p>")))

	rc, err := b.Open(ctx, "receipts/s1.html")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(body))

	_, err = b.Open(ctx, "receipts/missing.html")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOTPRepo_RecordAttempt_Caps(t *testing.T) {
	ctx := context.Background()
	r := NewOTPRepo()
	now := time.Now()
	require.NoError(t, r.Insert(ctx, &domain.OTPRequest{RequestID: "r1", Email: "a@x.com", ExpiresAt: now.Add(time.Minute)}))

	for i := 0; i < domain.MaxOTPAttempts; i++ {
		require.NoError(t, r.RecordAttempt(ctx, "r1"))
	}
	assert.ErrorIs(t, r.RecordAttempt(ctx, "r1"), domain.ErrAttemptsExhausted)
	assert.ErrorIs(t, r.RecordAttempt(ctx, "missing"), domain.ErrNotFound)

	_, err := r.FindLatestValid(ctx, "a@x.com", now)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a spent request is no longer usable")
}

func TestSignatureRepo_StatsQueries(t *testing.T) {
	ctx := context.Background()
	r := NewSignatureRepo()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	states := []string{"CA", "NY", "", "CA"}
	for i, st := range states {
		require.NoError(t, r.Insert(ctx, &domain.SignatureRecord{
			SignatureID: "s" + string(rune('a'+i)),
			PetitionID:  "p1",
			AuditHash:   "h" + string(rune('a'+i)),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			Signer:      domain.Signer{FirstName: "F" + string(rune('a'+i)), LastName: "Last", Email: string(rune('a'+i)) + "@x.com", State: st},
			Artifact:    domain.DrawnSignature{Image: []byte{0x89, 'P', 'N', 'G'}},
		}))
	}
	require.NoError(t, r.Insert(ctx, &domain.SignatureRecord{SignatureID: "other", PetitionID: "p2", AuditHash: "hx", Signer: domain.Signer{Email: "z@x.com", State: "TX"}}))

	n, err := r.CountByPetition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recent, err := r.RecentByPetition(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SignerName{
		{FirstName: "Fd", LastName: "Last", State: "CA"},
		{FirstName: "Fc", LastName: "Last"},
	}, recent)

	byState, err := r.CountByState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CA": 2, "NY": 1}, byState)
}
