package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/smpp-transport/internal/smsc"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
	"github.com/rs/zerolog/log"
)

// Handler exposes the simulator's state and fault injection over HTTP.
type Handler struct {
	srv *smsc.Server
}

func NewHandler(srv *smsc.Server) *Handler {
	return &Handler{srv: srv}
}

type HealthResponse struct {
	Status     string     `json:"status"`
	OperatorID string     `json:"operator_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Stats      smsc.Stats `json:"stats"`
}

type receiptRequest struct {
	Stat string `json:"stat" binding:"required,oneof=DELIVRD EXPIRED DELETED UNDELIV ACCEPTD UNKNOWN REJECTD ENROUTE"`
	Err  string `json:"err"`
}

type configRequest struct {
	DeliveryRate      *float64 `json:"delivery_rate"`
	ReceiptsEnabled   *bool    `json:"receipts_enabled"`
	IgnoreEnquireLink *bool    `json:"ignore_enquire_link"`
	BindStatus        *uint32  `json:"bind_status"`
}

type faultRequest struct {
	Throttle     int     `json:"throttle"     binding:"min=0"`
	Drop         int     `json:"drop"         binding:"min=0"`
	Hold         int     `json:"hold"         binding:"min=0"`
	RejectStatus *uint32 `json:"reject_status"`
	RejectCount  int     `json:"reject_count" binding:"min=0"`
	Disconnect   bool    `json:"disconnect"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		OperatorID: h.srv.OperatorID(),
		Timestamp:  time.Now(),
		Stats:      h.srv.Stats(),
	})
}

func (h *Handler) ListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.srv.Messages()})
}

func (h *Handler) GetMessage(c *gin.Context) {
	m, ok := h.srv.Message(c.Param("message_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// SendReceipt pushes a receipt with the given stat for an accepted message right away.
func (h *Handler) SendReceipt(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if req.Err == "" {
		req.Err = "000"
	}
	id := c.Param("message_id")
	if err := h.srv.SendReceipt(id, req.Stat, req.Err); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": id, "stat": req.Stat})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if req.DeliveryRate != nil {
		if *req.DeliveryRate < 0 || *req.DeliveryRate > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "delivery_rate must be within [0, 1]"})
			return
		}
		h.srv.SetDeliveryRate(*req.DeliveryRate)
	}
	if req.ReceiptsEnabled != nil {
		h.srv.SetReceiptsEnabled(*req.ReceiptsEnabled)
	}
	if req.IgnoreEnquireLink != nil {
		h.srv.IgnoreEnquireLink(*req.IgnoreEnquireLink)
	}
	if req.BindStatus != nil {
		h.srv.RejectBinds(pdu.CommandStatus(*req.BindStatus))
	}

	log.Info().Interface("config", req).Msg("Configuration updated")
	c.JSON(http.StatusOK, h.srv.Stats())
}

// InjectFaults scripts the next submits and optionally drops every bound connection.
func (h *Handler) InjectFaults(c *gin.Context) {
	var req faultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if req.Throttle > 0 {
		h.srv.ThrottleNext(req.Throttle)
	}
	if req.RejectStatus != nil && req.RejectCount > 0 {
		h.srv.RejectNext(pdu.CommandStatus(*req.RejectStatus), req.RejectCount)
	}
	if req.Drop > 0 {
		h.srv.DropNextSubmits(req.Drop)
	}
	if req.Hold > 0 {
		h.srv.HoldNextSubmits(req.Hold)
	}
	if req.Disconnect {
		h.srv.DisconnectAll()
	}

	log.Warn().Interface("faults", req).Msg("Faults injected")
	c.JSON(http.StatusAccepted, gin.H{"injected": req})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/messages", handler.ListMessages)
		v1.GET("/messages/:message_id", handler.GetMessage)
		v1.POST("/messages/:message_id/receipt", handler.SendReceipt)
		v1.PUT("/config", handler.UpdateConfig)
		v1.POST("/faults", handler.InjectFaults)
		v1.GET("/health", handler.HealthCheck)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}
