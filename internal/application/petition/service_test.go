package petition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/infrastructure/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStats_AggregatesWithoutPII(t *testing.T) {
	ctx := context.Background()
	petitions := memstore.NewPetitionRepo()
	signatures := memstore.NewSignatureRepo()
	require.NoError(t, petitions.Put(ctx, &domain.Petition{PetitionID: "p1", Slug: "bridge", GoalCount: 500}))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	states := []string{"CA", "CA", "NY", ""}
	for i := 0; i < 12; i++ {
		require.NoError(t, signatures.Insert(ctx, &domain.SignatureRecord{
			SignatureID: fmt.Sprintf("s%02d", i),
			PetitionID:  "p1",
			AuditHash:   fmt.Sprintf("h%02d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			Signer: domain.Signer{
				FirstName: fmt.Sprintf("F%d", i),
				LastName:  "lovelace",
				Email:     fmt.Sprintf("u%d@example.com", i),
				State:     states[i%len(states)],
			},
		}))
	}

	stats, err := NewService(petitions, signatures).Stats(ctx, "bridge")
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Count)
	assert.Equal(t, 500, stats.Goal)
	require.Len(t, stats.Recent, recentLimit)
	assert.Equal(t, domain.RecentSigner{First: "F11", LastInitial: "L."}, stats.Recent[0])
	assert.Equal(t, "NY", stats.Recent[1].State)
	assert.Equal(t, "F2", stats.Recent[9].First)
	assert.Equal(t, map[string]int{"CA": 6, "NY": 3}, stats.ByState)
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(memstore.NewPetitionRepo(), memstore.NewSignatureRepo())
	_, err := svc.Get(context.Background(), "nope")
	assert.Equal(t, domain.CodePetitionNotFound, domain.CodeOf(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeed_KeepsExisting(t *testing.T) {
	ctx := context.Background()
	petitions := memstore.NewPetitionRepo()
	svc := NewService(petitions, memstore.NewSignatureRepo())

	require.NoError(t, svc.Seed(ctx, &domain.Petition{PetitionID: "p1", Slug: "demo", Title: "First"}))
	require.NoError(t, svc.Seed(ctx, &domain.Petition{PetitionID: "p2", Slug: "demo", Title: "Second"}))

	got, err := svc.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)
}

func TestInitial(t *testing.T) {
	assert.Equal(t, "L.", initial(" lovelace"))
	assert.Equal(t, "É.", initial("émile"))
	assert.Equal(t, "", initial(""))
}

type mockCounter struct{ mock.Mock }

func (m *mockCounter) CountByPetition(ctx context.Context, petitionID string) (int, error) {
	args := m.Called(ctx, petitionID)
	return args.Int(0), args.Error(1)
}

func (m *mockCounter) RecentByPetition(ctx context.Context, petitionID string, limit int) ([]domain.SignerName, error) {
	args := m.Called(ctx, petitionID, limit)
	names, _ := args.Get(0).([]domain.SignerName)
	return names, args.Error(1)
}

func (m *mockCounter) CountByState(ctx context.Context, petitionID string) (map[string]int, error) {
	args := m.Called(ctx, petitionID)
	counts, _ := args.Get(0).(map[string]int)
	return counts, args.Error(1)
}

func TestStats_UsesStoreAggregatesOnly(t *testing.T) {
	ctx := context.Background()
	petitions := memstore.NewPetitionRepo()
	require.NoError(t, petitions.Put(ctx, &domain.Petition{PetitionID: "p1", Slug: "bridge", GoalCount: 1000}))

	counter := &mockCounter{}
	counter.On("CountByPetition", mock.Anything, "p1").Return(250000, nil)
	counter.On("RecentByPetition", mock.Anything, "p1", recentLimit).
		Return([]domain.SignerName{{FirstName: "Ada", LastName: "Lovelace", State: "NY"}}, nil)
	counter.On("CountByState", mock.Anything, "p1").Return(map[string]int{"NY": 250000}, nil)

	stats, err := NewService(petitions, counter).Stats(ctx, "bridge")
	require.NoError(t, err)
	assert.Equal(t, 250000, stats.Count)
	assert.Equal(t, []domain.RecentSigner{{First: "Ada", LastInitial: "L.", State: "NY"}}, stats.Recent)
	assert.Equal(t, map[string]int{"NY": 250000}, stats.ByState)
	counter.AssertExpectations(t)
}

func TestStats_StoreError(t *testing.T) {
	ctx := context.Background()
	petitions := memstore.NewPetitionRepo()
	require.NoError(t, petitions.Put(ctx, &domain.Petition{PetitionID: "p1", Slug: "bridge"}))

	counter := &mockCounter{}
	counter.On("CountByPetition", mock.Anything, "p1").Return(0, errors.New("throttled"))

	_, err := NewService(petitions, counter).Stats(ctx, "bridge")
	assert.ErrorContains(t, err, "throttled")
}
