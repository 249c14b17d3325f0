package processor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/internal/correlator"
	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweeper_Sweep(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	db := repository.NewTestDB(t)
	requests := repository.NewSendRequestRepository(db)
	records := repository.NewDeliveryRecordRepository(db)
	status := services.NewStatusService(requests, adapter)
	corr := correlator.New(correlator.NewMappingStore(adapter, time.Hour), records, requests, status, correlator.Config{})
	ctx := context.Background()

	create := func(st model.RequestStatus) string {
		id := uuid.NewString()
		_, err := requests.Create(ctx, &model.SendRequest{
			ID:        id,
			Phone:     "+15551234567",
			Text:      "hi",
			Priority:  "normal",
			Status:    st,
			PartCount: 1,
		})
		require.NoError(t, err)
		return id
	}

	queued := create(model.RequestStatusQueued)
	sent := create(model.RequestStatusSent)
	delivered := create(model.RequestStatusDelivered)
	require.NoError(t, corr.Track(ctx, "gw-1", sent, 1))

	sweeper := NewExpirySweeper(requests, records, corr, status, time.Hour, time.Minute)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is old enough yet")

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{queued, sent} {
		view, err := status.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusFailed, view.Status)
		assert.Equal(t, model.ReasonExpired, view.LastError)
	}
	view, err := status.GetStatus(ctx, delivered)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusDelivered, view.Status)

	rec, err := records.GetByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusExpired, rec.Status)
	assert.False(t, mr.Exists("dlr:map:gw-1"))

	// A late receipt is a correlation miss and changes nothing.
	require.NoError(t, corr.OnReceipt(ctx, correlator.Receipt{MessageID: "gw-1", Status: model.DeliveryStatusDelivered}))
	view, err = status.GetStatus(ctx, sent)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, view.Status)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
