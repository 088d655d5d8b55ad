// Package api serves the LogSentinel REST surface: log ingestion, SCD-2
// dimension changes, and read access to alerts, windows, quarantine and
// pipeline status.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"logsentinel/internal/dimension"
	"logsentinel/internal/domain"
	"logsentinel/internal/pipeline"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   *Problem `json:"error,omitempty"`
}

// Problem says why a request was not served.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Problem codes. Clients branch on these, not on messages.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeEmptyBatch         = "EMPTY_BATCH"
	CodeInvalidTimestamp   = "INVALID_TIMESTAMP"
	CodeInvalidChange      = "INVALID_DIMENSION_CHANGE"
	CodeOutOfOrderChange   = "OUT_OF_ORDER_CHANGE"
	CodeNoCurrentDimension = "NO_CURRENT_DIMENSION"
	CodeNoDimension        = "NO_DIMENSION"
	CodeAlertNotFound      = "ALERT_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBodyTooLarge       = "BODY_TOO_LARGE"
	CodePipelinePaused     = "PIPELINE_PAUSED"
	CodeInternal           = "INTERNAL_ERROR"
)

// rejections maps domain errors a client can cause to a status and code.
var rejections = []struct {
	err    error
	status int
	code   string
}{
	{dimension.ErrInvalidChange, fiber.StatusBadRequest, CodeInvalidChange},
	{dimension.ErrOutOfOrderChange, fiber.StatusConflict, CodeOutOfOrderChange},
	{dimension.ErrNoCurrentRow, fiber.StatusNotFound, CodeNoCurrentDimension},
	{domain.ErrAlertNotFound, fiber.StatusNotFound, CodeAlertNotFound},
}

// Reject writes the response for a domain rejection. ok is false when err is
// not one, and the caller should treat it as a server failure.
func Reject(c *fiber.Ctx, err error) (ok bool, resp error) {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return true, Fail(c, r.status, r.code, err.Error())
		}
	}
	return false, nil
}

// Success sends a 200 response with data.
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

// Created sends a 201 response with the created resource.
func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Envelope{Success: true, Data: data})
}

// Accepted sends a 202 response for work handed to the stream.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Envelope{Success: true, Data: data})
}

// NoContent sends a 204 response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Paused sends 503 with the pipeline status, so load balancers can drain
// the instance while operators still see why.
func Paused(c *fiber.Ctx, st pipeline.Status) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(Envelope{
		Data:  st,
		Error: &Problem{Code: CodePipelinePaused, Message: st.LastError},
	})
}

// Fail sends an error response.
func Fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Envelope{
		Error: &Problem{Code: code, Message: message},
	})
}

// BadRequest sends 400 for a body that cannot be parsed.
func BadRequest(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusBadRequest, CodeBadRequest, message)
}

// InvalidTimestamp sends 400 for a query parameter that is not RFC 3339.
func InvalidTimestamp(c *fiber.Ctx, param string) error {
	return Fail(c, fiber.StatusBadRequest, CodeInvalidTimestamp, param+" must be an RFC 3339 timestamp")
}

// NotFound sends 404 with the given code.
func NotFound(c *fiber.Ctx, code, message string) error {
	return Fail(c, fiber.StatusNotFound, code, message)
}

// InternalError sends 500. The message must not leak internals.
func InternalError(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusInternalServerError, CodeInternal, message)
}
