package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFinalizer struct {
	mock.Mock
}

func (m *MockFinalizer) Finalize(ctx context.Context, requestID string, status model.RequestStatus, reason string) (bool, error) {
	args := m.Called(ctx, requestID, status, reason)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	c        *Correlator
	mr       *miniredis.Miniredis
	requests *repository.SendRequestRepository
	records  *repository.DeliveryRecordRepository
	sink     *MockFinalizer
}

func setup(t *testing.T, grace time.Duration) *fixture {
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	db := repository.NewTestDB(t)
	f := &fixture{
		mr:       mr,
		requests: repository.NewSendRequestRepository(db),
		records:  repository.NewDeliveryRecordRepository(db),
		sink:     new(MockFinalizer),
	}
	f.c = New(NewMappingStore(adapter, time.Hour), f.records, f.requests, f.sink, Config{
		MissGrace: grace,
		MissPoll:  10 * time.Millisecond,
	})
	return f
}

func (f *fixture) request(t *testing.T, parts int) string {
	id := uuid.NewString()
	_, err := f.requests.Create(context.Background(), &model.SendRequest{
		ID:        id,
		Phone:     "+15551234567",
		Text:      "hello",
		Priority:  "normal",
		Status:    model.RequestStatusSent,
		PartCount: parts,
	})
	require.NoError(t, err)
	return id
}

func receipt(id string, status model.DeliveryStatus) Receipt {
	return Receipt{MessageID: id, Status: status}
}

func TestCorrelator_SingleSegmentDelivered(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 1)

	require.NoError(t, f.c.Track(ctx, "gw-1", reqID, 1))
	assert.True(t, f.mr.Exists(mappingKeyPrefix+"gw-1"))

	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusDelivered, "").Return(true, nil).Once()

	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusDelivered)))
	f.sink.AssertExpectations(t)

	rec, err := f.records.GetByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, rec.Status)
	assert.False(t, f.mr.Exists(mappingKeyPrefix+"gw-1"))

	// A repeated receipt finds no mapping and changes nothing.
	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusFailed)))
	f.sink.AssertNumberOfCalls(t, "Finalize", 1)
}

func TestCorrelator_WaitsForAllSegments(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 2)

	require.NoError(t, f.c.Track(ctx, "gw-1", reqID, 1))
	require.NoError(t, f.c.Track(ctx, "gw-2", reqID, 2))

	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusDelivered)))
	f.sink.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusDelivered, "").Return(true, nil).Once()
	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-2", model.DeliveryStatusDelivered)))
	f.sink.AssertExpectations(t)
}

func TestCorrelator_FailedSegmentFailsRequest(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 2)

	require.NoError(t, f.c.Track(ctx, "gw-1", reqID, 1))
	require.NoError(t, f.c.Track(ctx, "gw-2", reqID, 2))

	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusFailed, "segment 2 undelivered (err 001)").
		Return(true, nil).Once()

	r := receipt("gw-2", model.DeliveryStatusFailed)
	r.ErrorCode = "001"
	require.NoError(t, f.c.OnReceipt(ctx, r))
	f.sink.AssertExpectations(t)
}

func TestCorrelator_NonTerminalReceipts(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 1)
	require.NoError(t, f.c.Track(ctx, "gw-1", reqID, 1))

	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusSent)))
	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusUnknown)))

	rec, err := f.records.GetByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusUnknown, rec.Status)
	assert.True(t, f.mr.Exists(mappingKeyPrefix+"gw-1"))
	f.sink.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// The final receipt still lands after an unknown one.
	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusDelivered, "").Return(true, nil).Once()
	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusDelivered)))
	f.sink.AssertExpectations(t)
}

func TestCorrelator_MissIsDiscarded(t *testing.T) {
	f := setup(t, 0)
	err := f.c.OnReceipt(context.Background(), receipt("never-seen", model.DeliveryStatusDelivered))
	assert.NoError(t, err)
	f.sink.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCorrelator_ForgottenMappingIsAMiss(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 1)
	require.NoError(t, f.c.Track(ctx, "gw-1", reqID, 1))

	require.NoError(t, f.c.Forget(ctx, "gw-1"))
	require.NoError(t, f.c.OnReceipt(ctx, receipt("gw-1", model.DeliveryStatusDelivered)))

	rec, err := f.records.GetByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSent, rec.Status)
	f.sink.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCorrelator_ReceiptBeforeTrackWithinGrace(t *testing.T) {
	f := setup(t, time.Second)
	ctx := context.Background()
	reqID := f.request(t, 1)

	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusDelivered, "").Return(true, nil).Once()

	done := make(chan error, 1)
	go func() {
		done <- f.c.OnReceipt(ctx, receipt("gw-late", model.DeliveryStatusDelivered))
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.c.Track(ctx, "gw-late", reqID, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("receipt was not correlated")
	}
	f.sink.AssertExpectations(t)
}

func TestCorrelator_DecimalReceiptForHexID(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	reqID := f.request(t, 1)
	require.NoError(t, f.c.Track(ctx, "1a2b", reqID, 1))

	f.sink.On("Finalize", mock.Anything, reqID, model.RequestStatusDelivered, "").Return(true, nil).Once()
	require.NoError(t, f.c.OnReceipt(ctx, receipt("6699", model.DeliveryStatusDelivered)))
	f.sink.AssertExpectations(t)
}
