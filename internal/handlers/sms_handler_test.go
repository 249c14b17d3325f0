package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/services"
	xhttp "github.com/nimasrn/smpp-transport/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockSMSService struct {
	mock.Mock
}

func (m *MockSMSService) SubmitSMS(ctx context.Context, phone, text string, priority queue.Priority) (string, error) {
	args := m.Called(ctx, phone, text, priority)
	return args.String(0), args.Error(1)
}

type MockStatusService struct {
	mock.Mock
}

func (m *MockStatusService) GetStatus(ctx context.Context, requestID string) (*model.RequestStatusView, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RequestStatusView), args.Error(1)
}

func (m *MockStatusService) Events(ctx context.Context, after string, limit int) ([]model.StatusEvent, string, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]model.StatusEvent), args.String(1), args.Error(2)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func errorBody(t *testing.T, ctx *xhttp.RequestCtx) string {
	t.Helper()
	var response map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	return response["error"]
}

func TestSMSHandler_SubmitSMS(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := new(MockSMSService)
		handler := NewSMSHandler(svc, new(MockStatusService))

		body, _ := json.Marshal(submitRequest{Phone: "+15551234567", Text: "hi", Priority: "high"})
		svc.On("SubmitSMS", mock.Anything, "+15551234567", "hi", queue.PriorityHigh).Return("req-1", nil)

		ctx := setupTestContext("POST", "/api/v1/sms", body)
		handler.SubmitSMS(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
		var response submitResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "req-1", response.RequestID)
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockSMSService)
		handler := NewSMSHandler(svc, new(MockStatusService))

		ctx := setupTestContext("POST", "/api/v1/sms", []byte("{nope"))
		handler.SubmitSMS(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, errorBody(t, ctx), "invalid JSON")
		svc.AssertNotCalled(t, "SubmitSMS", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation error", func(t *testing.T) {
		svc := new(MockSMSService)
		handler := NewSMSHandler(svc, new(MockStatusService))

		body, _ := json.Marshal(submitRequest{Phone: "12", Text: "hi"})
		svc.On("SubmitSMS", mock.Anything, "12", "hi", queue.Priority("")).
			Return("", &services.ValidationError{Field: "phone", Reason: "must be an E.164 number"})

		ctx := setupTestContext("POST", "/api/v1/sms", body)
		handler.SubmitSMS(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, errorBody(t, ctx), "phone")
	})

	t.Run("queue unavailable", func(t *testing.T) {
		svc := new(MockSMSService)
		handler := NewSMSHandler(svc, new(MockStatusService))

		body, _ := json.Marshal(submitRequest{Phone: "+15551234567", Text: "hi"})
		svc.On("SubmitSMS", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("redis down"))

		ctx := setupTestContext("POST", "/api/v1/sms", body)
		handler.SubmitSMS(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		assert.NotContains(t, errorBody(t, ctx), "redis")
	})
}

func TestSMSHandler_GetStatus(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		st := new(MockStatusService)
		handler := NewSMSHandler(new(MockSMSService), st)

		st.On("GetStatus", mock.Anything, "req-1").Return(&model.RequestStatusView{
			RequestID: "req-1",
			Status:    model.RequestStatusFailed,
			LastError: "expired",
		}, nil)

		ctx := setupTestContext("GET", "/api/v1/sms/req-1", nil)
		ctx.SetUserValue("id", "req-1")
		handler.GetStatus(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var view model.RequestStatusView
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &view))
		assert.Equal(t, model.RequestStatusFailed, view.Status)
		assert.Equal(t, "expired", view.LastError)
	})

	t.Run("not found", func(t *testing.T) {
		st := new(MockStatusService)
		handler := NewSMSHandler(new(MockSMSService), st)
		st.On("GetStatus", mock.Anything, "missing").Return(nil, services.ErrNotFound)

		ctx := setupTestContext("GET", "/api/v1/sms/missing", nil)
		ctx.SetUserValue("id", "missing")
		handler.GetStatus(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})

	t.Run("store failure", func(t *testing.T) {
		st := new(MockStatusService)
		handler := NewSMSHandler(new(MockSMSService), st)
		st.On("GetStatus", mock.Anything, "req-2").Return(nil, errors.New("db gone"))

		ctx := setupTestContext("GET", "/api/v1/sms/req-2", nil)
		ctx.SetUserValue("id", "req-2")
		handler.GetStatus(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestSMSHandler_ListEvents(t *testing.T) {
	st := new(MockStatusService)
	handler := NewSMSHandler(new(MockSMSService), st)

	st.On("Events", mock.Anything, "1-0", 50).Return([]model.StatusEvent{
		{RequestID: "req-1", Status: model.RequestStatusDelivered},
	}, "2-0", nil)
	st.On("Events", mock.Anything, "", 0).Return(nil, "", nil)

	ctx := setupTestContext("GET", "/api/v1/sms/events?after=1-0&limit=50", nil)
	handler.ListEvents(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var response eventsResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	require.Len(t, response.Items, 1)
	assert.Equal(t, "req-1", response.Items[0].RequestID)
	assert.Equal(t, "2-0", response.Cursor)

	ctx = setupTestContext("GET", "/api/v1/sms/events?limit=abc", nil)
	handler.ListEvents(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Empty(t, response.Items)
	st.AssertExpectations(t)
}

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler := NewHealthHandler(map[string]Check{
			"redis": func(context.Context) error { return nil },
		})
		ctx := setupTestContext("GET", "/api/v1/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var res healthResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
		assert.Equal(t, "ok", res.Status)
	})

	t.Run("degraded", func(t *testing.T) {
		handler := NewHealthHandler(map[string]Check{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		})
		ctx := setupTestContext("GET", "/api/v1/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		var res healthResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
		assert.Equal(t, "degraded", res.Status)
		assert.Equal(t, "connection refused", res.Checks["postgres"])
		assert.Equal(t, "ok", res.Checks["redis"])
	})
}
