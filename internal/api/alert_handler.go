package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"logsentinel/internal/domain"
	"logsentinel/internal/store"
)

// AlertHandler handles HTTP requests for alert operations.
// Alerts are read-only through the API.
type AlertHandler struct {
	repo   store.AlertRepository
	logger *slog.Logger
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(repo store.AlertRepository, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		repo:   repo,
		logger: logger,
	}
}

// List handles GET /v1/alerts
// Returns alerts matching query parameters, newest first.
func (h *AlertHandler) List(c *fiber.Ctx) error {
	filter := domain.AlertFilter{
		Service:  c.Query("service"),
		RuleName: c.Query("rule"),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return InvalidTimestamp(c, "since")
		}
		filter.Since = t
	}
	filter.Limit, filter.Offset = pagination(c)

	alerts, err := h.repo.List(c.UserContext(), filter)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		return InternalError(c, "failed to list alerts")
	}

	return Success(c, alerts)
}

// GetByID handles GET /v1/alerts/:id
func (h *AlertHandler) GetByID(c *fiber.Ctx) error {
	alert, err := h.repo.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if ok, resp := Reject(c, err); ok {
			return resp
		}
		h.logger.Error("failed to get alert", "error", err)
		return InternalError(c, "failed to get alert")
	}
	return Success(c, alert)
}

// pagination parses limit and offset, defaulting the limit to 100.
func pagination(c *fiber.Ctx) (limit, offset int) {
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		offset = o
	}
	if limit == 0 {
		limit = 100
	}
	return limit, offset
}
