package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-intake/internal/identity"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
)

func TestInMemoryAlertStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()
	occurredAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.Create(ctx, models.AlertInput{
		User:       "alice",
		OccurredAt: occurredAt,
		AlertName:  "impossible_travel",
		Score:      7,
	})
	require.NoError(t, err)
	assert.Equal(t, identity.AlertKey("alice", occurredAt, "impossible_travel"), created.ID)
	assert.NotNil(t, created.Evidence)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)

	byKey, err := store.FindByNaturalKey(ctx, "alice", occurredAt, "impossible_travel")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrAlertNotFound)
}

func TestInMemoryAlertStore_DuplicateCreate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()
	occurredAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	input := models.AlertInput{User: "alice", OccurredAt: occurredAt, AlertName: "a1"}

	_, err := store.Create(ctx, input)
	require.NoError(t, err)

	_, err = store.Create(ctx, input)
	assert.ErrorIs(t, err, repository.ErrDuplicateAlert)
	assert.True(t, repository.IsDuplicate(err))
}

func TestInMemoryAlertStore_UpdateRecomputesID(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()
	occurredAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.Create(ctx, models.AlertInput{User: "alice", OccurredAt: occurredAt, AlertName: "a1"})
	require.NoError(t, err)

	newName := "a2"
	updated, err := store.Update(ctx, created.ID, models.AlertUpdate{AlertName: &newName})
	require.NoError(t, err)
	assert.Equal(t, identity.AlertKey("alice", occurredAt, "a2"), updated.ID)
	assert.NotEqual(t, created.ID, updated.ID)

	// The old identity is gone.
	_, err = store.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrAlertNotFound)

	// A rename onto an existing natural key is a conflict.
	other, err := store.Create(ctx, models.AlertInput{User: "alice", OccurredAt: occurredAt, AlertName: "a3"})
	require.NoError(t, err)
	collide := "a2"
	_, err = store.Update(ctx, other.ID, models.AlertUpdate{AlertName: &collide})
	assert.ErrorIs(t, err, repository.ErrDuplicateAlert)
}

func TestInMemoryAlertStore_UpdateLinkState(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()

	created, err := store.Create(ctx, models.AlertInput{
		User:       "alice",
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		AlertName:  "a1",
	})
	require.NoError(t, err)

	incidentID := "incident-1"
	under := true
	updated, err := store.Update(ctx, created.ID, models.AlertUpdate{
		IncidentID:      &incidentID,
		IsUnderIncident: &under,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	require.NotNil(t, updated.IncidentID)
	assert.Equal(t, "incident-1", *updated.IncidentID)

	notUnder := false
	updated, err = store.Update(ctx, created.ID, models.AlertUpdate{
		ClearIncidentID: true,
		IsUnderIncident: &notUnder,
	})
	require.NoError(t, err)
	assert.Nil(t, updated.IncidentID)
	assert.False(t, updated.IsUnderIncident)
}

func TestInMemoryAlertStore_FindAllByUserInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"a1", "a2", "a3"} {
		_, err := store.Create(ctx, models.AlertInput{
			User:       "alice",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			AlertName:  name,
		})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, models.AlertInput{User: "bob", OccurredAt: base, AlertName: "b1"})
	require.NoError(t, err)

	out, err := store.FindAllByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a1", out[0].AlertName)
	assert.Equal(t, "a2", out[1].AlertName)
	assert.Equal(t, "a3", out[2].AlertName)
}

func TestInMemoryAlertStore_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryAlertStore()

	created, err := store.Create(ctx, models.AlertInput{
		User:       "alice",
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		AlertName:  "a1",
		Evidence:   map[string]any{"site": "a"},
	})
	require.NoError(t, err)

	created.Evidence["site"] = "tampered"

	fresh, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.Evidence["site"])
}

func TestInMemoryIncidentStore_CreateUpdateFind(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryIncidentStore()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	created, err := store.Create(ctx, models.IncidentInput{
		User:        "alice",
		WindowStart: start,
		WindowEnd:   end,
		Score:       5,
		Windows:     []string{"2024-01-01T00:10:00.000Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, identity.IncidentKey("alice", start, end), created.ID)

	_, err = store.Create(ctx, models.IncidentInput{User: "alice", WindowStart: start, WindowEnd: end})
	assert.ErrorIs(t, err, repository.ErrDuplicateIncident)

	newEnd := end.Add(time.Hour)
	updated, err := store.Update(ctx, created.ID, models.IncidentUpdate{WindowEnd: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, identity.IncidentKey("alice", start, newEnd), updated.ID)

	_, err = store.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)

	byKey, err := store.FindByNaturalKey(ctx, "alice", start, newEnd)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, byKey.ID)
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, repository.IsDuplicate(repository.ErrDuplicateAlert))
	assert.True(t, repository.IsDuplicate(repository.ErrDuplicateIncident))
	assert.False(t, repository.IsDuplicate(repository.ErrAlertNotFound))
	assert.False(t, repository.IsDuplicate(nil))
}
