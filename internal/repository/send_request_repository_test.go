package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(priority string) *model.SendRequest {
	return &model.SendRequest{
		ID:       uuid.NewString(),
		Phone:    "+15551234567",
		Text:     "Test message",
		Priority: priority,
		Status:   model.RequestStatusQueued,
	}
}

func TestSendRequestRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSendRequestRepository(db)
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		req := newRequest("high")
		created, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.NotZero(t, created.CreatedAt)

		got, err := repo.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, req.Phone, got.Phone)
		assert.Equal(t, "high", got.Priority)
		assert.Equal(t, model.RequestStatusQueued, got.Status)
		assert.Nil(t, got.FinalizedAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		req := newRequest("low")
		_, err := repo.Create(ctx, req)
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, req.ID))
		_, err = repo.Get(ctx, req.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSendRequestRepository_FinalizeOnce(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSendRequestRepository(db)
	ctx := context.Background()

	req := newRequest("normal")
	_, err := repo.Create(ctx, req)
	require.NoError(t, err)

	ok, err := repo.Finalize(ctx, req.ID, model.RequestStatusDelivered, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finalize(ctx, req.ID, model.RequestStatusFailed, model.ReasonExpired)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusDelivered, got.Status)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.FinalizedAt)
}

func TestSendRequestRepository_UpdateProgress(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSendRequestRepository(db)
	ctx := context.Background()

	req := newRequest("normal")
	_, err := repo.Create(ctx, req)
	require.NoError(t, err)

	err = repo.UpdateProgress(ctx, req.ID, model.SendRequestProgress{
		Status:       model.RequestStatusSent,
		AttemptCount: 2,
		PartCount:    3,
		Encoding:     "gsm7",
		LastError:    "throttled",
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusSent, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 3, got.PartCount)
	assert.Equal(t, "throttled", got.LastError)

	_, err = repo.Finalize(ctx, req.ID, model.RequestStatusFailed, "invalid destination")
	require.NoError(t, err)

	// Progress never reopens a terminal request.
	require.NoError(t, repo.UpdateProgress(ctx, req.ID, model.SendRequestProgress{Status: model.RequestStatusQueued}))
	got, err = repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, got.Status)
}

func TestSendRequestRepository_ListExpired(t *testing.T) {
	tdb := setupTestDB(t)
	repo := NewSendRequestRepository(tdb.DB)
	ctx := context.Background()

	old := newRequest("normal")
	_, err := repo.Create(ctx, old)
	require.NoError(t, err)
	require.NoError(t, tdb.rawDB.Model(&SendRequestEntity{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	oldDone := newRequest("normal")
	_, err = repo.Create(ctx, oldDone)
	require.NoError(t, err)
	require.NoError(t, tdb.rawDB.Model(&SendRequestEntity{}).Where("id = ?", oldDone.ID).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)
	_, err = repo.Finalize(ctx, oldDone.ID, model.RequestStatusDelivered, "")
	require.NoError(t, err)

	fresh := newRequest("normal")
	_, err = repo.Create(ctx, fresh)
	require.NoError(t, err)

	expired, err := repo.ListExpired(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.RequestStatusQueued])
	assert.Equal(t, int64(1), counts[model.RequestStatusDelivered])
}
