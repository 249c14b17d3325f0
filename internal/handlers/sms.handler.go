package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/services"
	xhttp "github.com/nimasrn/smpp-transport/pkg/http"
	"github.com/nimasrn/smpp-transport/pkg/logger"
)

type SMSService interface {
	SubmitSMS(ctx context.Context, phone, text string, priority queue.Priority) (string, error)
}

type StatusService interface {
	GetStatus(ctx context.Context, requestID string) (*model.RequestStatusView, error)
	Events(ctx context.Context, after string, limit int) ([]model.StatusEvent, string, error)
}

type SMSHandler struct {
	sms    SMSService
	status StatusService
}

func RegisterSMSRoutes(e *router.Group, h *SMSHandler) {
	e.POST("/sms", h.SubmitSMS)
	e.GET("/sms/events", h.ListEvents)
	e.GET("/sms/{id}", h.GetStatus)
}

func NewSMSHandler(sms SMSService, status StatusService) *SMSHandler {
	return &SMSHandler{
		sms:    sms,
		status: status,
	}
}

type submitRequest struct {
	Phone    string `json:"phone"`
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type eventsResponse struct {
	Items  []model.StatusEvent `json:"items"`
	Cursor string              `json:"cursor"`
}

func (h *SMSHandler) SubmitSMS(ctx *xhttp.RequestCtx) {
	var req submitRequest
	if err := xhttp.ReadJSON(ctx, &req); err != nil {
		xhttp.WriteError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	id, err := h.sms.SubmitSMS(ctx, req.Phone, req.Text, queue.Priority(req.Priority))
	if err != nil {
		if services.IsValidationError(err) {
			xhttp.WriteError(ctx, 400, err.Error())
			return
		}
		logger.Error("[sms-handler] submit failed", "error", err)
		xhttp.WriteError(ctx, 503, "request could not be queued")
		return
	}
	xhttp.WriteJSON(ctx, 202, submitResponse{RequestID: id})
}

func (h *SMSHandler) GetStatus(ctx *xhttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if id == "" {
		xhttp.WriteError(ctx, 400, "request id is required")
		return
	}

	view, err := h.status.GetStatus(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			xhttp.WriteError(ctx, 404, err.Error())
			return
		}
		logger.Error("[sms-handler] status lookup failed", "request_id", id, "error", err)
		xhttp.WriteError(ctx, 500, "status unavailable")
		return
	}
	xhttp.WriteJSON(ctx, 200, view)
}

// ListEvents pages through final status events; pass the returned cursor as ?after= to continue.
// ?limit= sets the page size, up to services.MaxEventsPage.
func (h *SMSHandler) ListEvents(ctx *xhttp.RequestCtx) {
	after := string(ctx.QueryArgs().Peek("after"))
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	items, cursor, err := h.status.Events(ctx, after, limit)
	if err != nil {
		logger.Error("[sms-handler] events read failed", "error", err)
		xhttp.WriteError(ctx, 500, "events unavailable")
		return
	}
	if items == nil {
		items = []model.StatusEvent{}
	}
	xhttp.WriteJSON(ctx, 200, eventsResponse{Items: items, Cursor: cursor})
}
