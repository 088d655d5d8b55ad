package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logsentinel/internal/config"
)

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	logger *slog.Logger

	// Handlers
	ingestHandler     *IngestHandler
	dimensionHandler  *DimensionHandler
	alertHandler      *AlertHandler
	quarantineHandler *QuarantineHandler
	windowHandler     *WindowHandler
	statusHandler     *StatusHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config            *config.ServerConfig
	Logger            *slog.Logger
	IngestHandler     *IngestHandler
	DimensionHandler  *DimensionHandler
	AlertHandler      *AlertHandler
	QuarantineHandler *QuarantineHandler
	WindowHandler     *WindowHandler
	StatusHandler     *StatusHandler

	// DisableRequestLog turns off the access log middleware. Used by tests.
	DisableRequestLog bool
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           deps.Config.ReadTimeout,
		WriteTimeout:          deps.Config.WriteTimeout,
		IdleTimeout:           deps.Config.IdleTimeout,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:               app,
		config:            deps.Config,
		logger:            deps.Logger,
		ingestHandler:     deps.IngestHandler,
		dimensionHandler:  deps.DimensionHandler,
		alertHandler:      deps.AlertHandler,
		quarantineHandler: deps.QuarantineHandler,
		windowHandler:     deps.WindowHandler,
		statusHandler:     deps.StatusHandler,
	}

	s.registerMiddleware(!deps.DisableRequestLog)
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware(requestLog bool) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.New())

	if requestLog {
		s.app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}
}

// registerRoutes sets up all API routes. Handlers left nil in ServerDeps
// are not routed.
func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.healthCheck)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")

	if s.ingestHandler != nil {
		v1.Post("/logs", s.ingestHandler.IngestLogs)
	}

	if s.dimensionHandler != nil {
		v1.Post("/dimensions", s.dimensionHandler.ApplyChange)
		v1.Get("/dimensions/:service", s.dimensionHandler.AsOf)
		v1.Get("/dimensions/:service/history", s.dimensionHandler.History)
		v1.Delete("/dimensions/:service", s.dimensionHandler.Close)
	}

	// Alerts, quarantine and windows are read-only
	if s.alertHandler != nil {
		v1.Get("/alerts", s.alertHandler.List)
		v1.Get("/alerts/:id", s.alertHandler.GetByID)
	}
	if s.quarantineHandler != nil {
		v1.Get("/quarantine", s.quarantineHandler.List)
	}
	if s.windowHandler != nil {
		v1.Get("/windows/:service", s.windowHandler.List)
	}
	if s.statusHandler != nil {
		v1.Get("/status", s.statusHandler.Get)
	}
}

// healthCheck returns the health status of the service.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return Success(c, map[string]string{
		"status": "healthy",
	})
}

// App exposes the underlying fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return Fail(c, e.Code, codeForStatus(e.Code), e.Message)
	}
	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case fiber.StatusRequestEntityTooLarge:
		return CodeBodyTooLarge
	case fiber.StatusBadRequest:
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
