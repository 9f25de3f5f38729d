package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sessions controls the WhatsApp session of a channel
type Sessions interface {
	StartSession(ctx context.Context, channelID uuid.UUID) error
	RemoveSession(ctx context.Context, channelID uuid.UUID) error
	RequestPairingCode(ctx context.Context, channelID uuid.UUID, phone string) (string, error)
	ConnectedCount() int
}

type Config struct {
	CORSOrigins []string
	Development bool
}

type Server struct {
	app      *fiber.App
	services *service.Services
	hub      *ws.Hub
	sessions Sessions
	log      zerolog.Logger
}

func NewServer(cfg Config, services *service.Services, hub *ws.Hub, sessions Sessions, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whaticket",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(helmet.New(helmet.Config{
		XFrameOptions:  "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))
	if cfg.Development {
		app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "15:04:05",
		}))
	}

	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws" || c.Path() == "/health"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests",
			})
		},
	}))

	origins := strings.Join(cfg.CORSOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		AllowCredentials: origins != "*",
	}))

	s := &Server{
		app:      app,
		services: services,
		hub:      hub,
		sessions: sessions,
		log:      log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

// errorHandler renders every failure as {"success": false, "error": ...}.
// AppError codes keep their own status.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	var appErr *domain.AppError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Status
	case errors.As(err, &fe):
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"connected": s.sessions.ConnectedCount(),
			"clients":   s.hub.GetClientCount(),
		})
	})

	s.app.Use("/ws", s.wsUpgrade)
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	api := s.app.Group("/api", s.authMiddleware)
	channels := api.Group("/channels/:id")
	channels.Post("/session", s.handleStartSession)
	channels.Delete("/session", s.handleRemoveSession)
	channels.Post("/pairing-code", s.handlePairingCode)
}

func (s *Server) authMiddleware(c *fiber.Ctx) error {
	auth := c.Get("Authorization")
	if auth == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := s.services.Auth.ValidateToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("user_id", claims.UserID)
	c.Locals("profile", claims.Profile)
	return c.Next()
}

// wsUpgrade authenticates the websocket handshake through the token query
// parameter, since browsers cannot set headers on it
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing token")
	}
	claims, err := s.services.Auth.ValidateToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("user_id", claims.UserID)
	return c.Next()
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(uuid.UUID)
	client := ws.NewClient(s.hub, c, userID)
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

func channelID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid channel id")
	}
	return id, nil
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	id, err := channelID(c)
	if err != nil {
		return err
	}
	if _, err := s.services.Channel.Show(c.UserContext(), id); err != nil {
		return err
	}
	if err := s.sessions.StartSession(context.WithoutCancel(c.UserContext()), id); err != nil {
		s.log.Error().Err(err).Str("channel", id.String()).Msg("failed to start session")
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Starting session."})
}

func (s *Server) handleRemoveSession(c *fiber.Ctx) error {
	id, err := channelID(c)
	if err != nil {
		return err
	}
	if err := s.sessions.RemoveSession(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Session disconnected."})
}

type pairingRequest struct {
	Number string `json:"number"`
}

func (s *Server) handlePairingCode(c *fiber.Ctx) error {
	id, err := channelID(c)
	if err != nil {
		return err
	}
	var req pairingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	number := strings.TrimPrefix(strings.TrimSpace(req.Number), "+")
	if number == "" {
		return fiber.NewError(fiber.StatusBadRequest, "number is required")
	}

	code, err := s.sessions.RequestPairingCode(c.UserContext(), id, number)
	if err != nil {
		return err
	}
	if code == "" {
		return fiber.NewError(fiber.StatusBadGateway, "pairing code unavailable")
	}
	return c.JSON(fiber.Map{"success": true, "pairing_code": code})
}

// Listen serves HTTP until Shutdown is called
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}
