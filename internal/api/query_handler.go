package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"logsentinel/internal/domain"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/store"
)

// QuarantineHandler serves quarantined events.
type QuarantineHandler struct {
	repo   store.QuarantineRepository
	logger *slog.Logger
}

// NewQuarantineHandler creates a new quarantine handler.
func NewQuarantineHandler(repo store.QuarantineRepository, logger *slog.Logger) *QuarantineHandler {
	return &QuarantineHandler{repo: repo, logger: logger}
}

// List handles GET /v1/quarantine
func (h *QuarantineHandler) List(c *fiber.Ctx) error {
	filter := domain.QuarantineFilter{
		Service: c.Query("service"),
		Reason:  domain.ReasonCode(c.Query("reason")),
	}
	filter.Limit, filter.Offset = pagination(c)

	records, err := h.repo.List(c.UserContext(), filter)
	if err != nil {
		h.logger.Error("failed to list quarantine", "error", err)
		return InternalError(c, "failed to list quarantined events")
	}
	return Success(c, records)
}

// WindowHandler serves finalized window metrics.
type WindowHandler struct {
	repo   store.WindowMetricsRepository
	logger *slog.Logger
}

// NewWindowHandler creates a new window handler.
func NewWindowHandler(repo store.WindowMetricsRepository, logger *slog.Logger) *WindowHandler {
	return &WindowHandler{repo: repo, logger: logger}
}

// List handles GET /v1/windows/:service
func (h *WindowHandler) List(c *fiber.Ctx) error {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return InvalidTimestamp(c, "since")
		}
		since = t
	}
	limit, _ := pagination(c)

	windows, err := h.repo.List(c.UserContext(), c.Params("service"), since, limit)
	if err != nil {
		h.logger.Error("failed to list windows", "error", err)
		return InternalError(c, "failed to list windows")
	}
	return Success(c, windows)
}

// StatusProvider reports pipeline status.
type StatusProvider interface {
	Status() pipeline.Status
}

// StatusHandler serves the pipeline status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// Get handles GET /v1/status
// Responds 503 while ingestion is paused so load balancers can react.
func (h *StatusHandler) Get(c *fiber.Ctx) error {
	st := h.provider.Status()
	if st.State == pipeline.StatePaused {
		return Paused(c, st)
	}
	return Success(c, st)
}
