package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"logsentinel/internal/dimension"
	"logsentinel/internal/domain"
)

// DimensionHandler handles HTTP requests for service dimensions.
type DimensionHandler struct {
	store  *dimension.Store
	logger *slog.Logger
}

// NewDimensionHandler creates a new dimension handler.
func NewDimensionHandler(store *dimension.Store, logger *slog.Logger) *DimensionHandler {
	return &DimensionHandler{
		store:  store,
		logger: logger,
	}
}

// ApplyChange handles POST /v1/dimensions
// Versions a service's owner and tier. A change effective before the
// service's current row is rejected with 409.
func (h *DimensionHandler) ApplyChange(c *fiber.Ctx) error {
	var change domain.DimensionChange
	if err := c.BodyParser(&change); err != nil {
		h.logger.Debug("failed to parse dimension change", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if change.EffectiveAt.IsZero() {
		change.EffectiveAt = time.Now().UTC()
	}

	rec, err := h.store.ApplyChange(c.UserContext(), change)
	if err != nil {
		if ok, resp := Reject(c, err); ok {
			h.logger.Debug("dimension change rejected", "error", err, "service", change.Service)
			return resp
		}
		h.logger.Error("failed to apply dimension change", "error", err, "service", change.Service)
		return InternalError(c, "failed to apply dimension change")
	}

	h.logger.Info("dimension changed",
		"service", rec.Service,
		"owner", rec.Owner,
		"tier", rec.Tier,
		"effective_from", rec.EffectiveFrom,
	)
	return Created(c, rec)
}

// AsOf handles GET /v1/dimensions/:service
// Returns the row effective at ?as_of= (RFC 3339), or the current row.
func (h *DimensionHandler) AsOf(c *fiber.Ctx) error {
	service := c.Params("service")

	ts := time.Now().UTC()
	if asOf := c.Query("as_of"); asOf != "" {
		parsed, err := time.Parse(time.RFC3339Nano, asOf)
		if err != nil {
			return InvalidTimestamp(c, "as_of")
		}
		ts = parsed
	}

	rec, err := h.store.AsOf(c.UserContext(), service, ts)
	if err != nil {
		h.logger.Error("dimension lookup failed", "error", err, "service", service)
		return InternalError(c, "dimension lookup failed")
	}
	if rec == nil {
		return NotFound(c, CodeNoDimension, "no dimension effective for service at the requested time")
	}
	return Success(c, rec)
}

// History handles GET /v1/dimensions/:service/history
func (h *DimensionHandler) History(c *fiber.Ctx) error {
	rows := h.store.History(c.Params("service"))
	if len(rows) == 0 {
		return NotFound(c, CodeNoDimension, "service has no dimension history")
	}
	return Success(c, rows)
}

// Close handles DELETE /v1/dimensions/:service
// Ends the current row at ?at= (RFC 3339) or now.
func (h *DimensionHandler) Close(c *fiber.Ctx) error {
	service := c.Params("service")

	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return InvalidTimestamp(c, "at")
		}
		at = parsed
	}

	if err := h.store.CloseService(c.UserContext(), service, at); err != nil {
		if ok, resp := Reject(c, err); ok {
			return resp
		}
		h.logger.Error("failed to close service", "error", err, "service", service)
		return InternalError(c, "failed to close service")
	}
	return NoContent(c)
}
