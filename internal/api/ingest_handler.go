package api

import (
	"bytes"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"logsentinel/internal/ingest"
)

// IngestHandler handles HTTP requests for log ingestion.
type IngestHandler struct {
	service *ingest.Service
	logger  *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *ingest.Service, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// IngestLogs handles POST /v1/logs
// Accepts a single event object or a JSON array of events and publishes
// them to the stream. Validation happens asynchronously in the pipeline,
// so an accepted event may still end up in quarantine.
func (h *IngestHandler) IngestLogs(c *fiber.Ctx) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return BadRequest(c, "request body is empty")
	}

	// fasthttp reuses the body buffer after the handler returns.
	body = bytes.Clone(body)

	if body[0] != '[' {
		if err := h.service.IngestRaw(c.UserContext(), body); err != nil {
			h.logger.Error("failed to ingest event", "error", err)
			return InternalError(c, "failed to ingest event")
		}
		return Accepted(c, map[string]any{
			"status":   "accepted",
			"accepted": 1,
		})
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		h.logger.Debug("failed to parse batch body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if len(batch) == 0 {
		return Fail(c, fiber.StatusBadRequest, CodeEmptyBatch, "batch must contain at least one event")
	}

	n, err := h.service.IngestBatch(c.UserContext(), batch)
	if err != nil {
		h.logger.Error("failed to ingest batch", "error", err, "accepted", n, "size", len(batch))
		return InternalError(c, "failed to ingest batch")
	}

	return Accepted(c, map[string]any{
		"status":   "accepted",
		"accepted": n,
	})
}
