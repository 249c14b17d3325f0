package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/smpp-transport/internal/smsc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *smsc.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	nop := zerolog.Nop()
	srv := smsc.New(smsc.Config{
		Addr:         "127.0.0.1:0",
		DeliveryRate: 1,
		MinDelay:     time.Millisecond,
		MaxDelay:     time.Millisecond,
		Logger:       &nop,
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })

	return SetupRouter(NewHandler(srv)), srv
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router, srv := setupRouter(t)

	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res.Status)
	assert.Equal(t, srv.OperatorID(), res.OperatorID)
}

func TestUpdateConfig(t *testing.T) {
	router, srv := setupRouter(t)

	w := do(router, http.MethodPut, "/api/v1/config", map[string]any{"delivery_rate": 0.25})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.25, srv.Stats().DeliveryRate)

	w = do(router, http.MethodPut, "/api/v1/config", map[string]any{"delivery_rate": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0.25, srv.Stats().DeliveryRate)
}

func TestInjectFaults(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/faults", map[string]any{"throttle": 2, "drop": 1})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(router, http.MethodPost, "/api/v1/faults", map[string]any{"throttle": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, http.MethodGet, "/api/v1/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/v1/messages/missing/receipt", map[string]any{"stat": "DELIVRD"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(router, http.MethodPost, "/api/v1/messages/missing/receipt", map[string]any{"stat": "LOST"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
