// Package gateway is the HTTP action surface of the classroom. Every
// state-changing intent (seats, hands, turns, rounds) arrives here as a
// request/response call; the resulting broadcasts travel over the websocket.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"classroom/internal/classroom"
	"classroom/internal/identity"
	"classroom/internal/journal"
	"classroom/pkg/types"
)

// History is the read side of the event journal.
type History interface {
	Events(ctx context.Context, classroomID string, limit int) ([]journal.Event, error)
	HealthCheck(ctx context.Context) error
}

// Server routes classroom actions to the state store.
type Server struct {
	store   *classroom.Store
	history History
	logger  *slog.Logger
	echo    *echo.Echo
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// NewServer builds the gateway. ws, when non-nil, is mounted at /ws and does
// its own token authentication; every /classroom route requires a Bearer
// identity token.
func NewServer(store *classroom.Store, history History, verifier *identity.Verifier, ws http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, history: history, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)
	if ws != nil {
		e.GET("/ws", echo.WrapHandler(ws))
	}

	g := e.Group("/classroom", identity.Middleware(verifier))
	teacherOnly := identity.RequireRole(types.RoleTeacher)
	studentOnly := identity.RequireRole(types.RoleStudent)

	g.POST("/create/", s.handleCreate, teacherOnly)
	g.DELETE("/close/:classroomID/", s.handleClose, teacherOnly)
	g.GET("/state/:classroomID/", s.handleState)
	g.POST("/select-seat/:classroomID/", s.handleSelectSeat, studentOnly)
	g.POST("/leave-seat/:classroomID/", s.handleLeaveSeat, studentOnly)
	g.POST("/raise-hand/", s.handleRaiseHand)
	g.POST("/call-on/:classroomID/", s.handleCallOn, teacherOnly)
	g.POST("/start-update-round/:classroomID/", s.handleStartRound, teacherOnly)
	g.POST("/end-turn/:turnID/", s.handleEndTurn)
	g.GET("/raised-hands/:classroomID/", s.handleRaisedHands)
	g.GET("/history/:classroomID/", s.handleHistory)

	s.echo = e
	return s
}

// Handler exposes the gateway as an http.Handler for the outer server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	})
}

// respond writes the uniform {"success": ..., "message": ...} envelope, with
// any extra data keys merged in.
func respond(c echo.Context, status int, message string, extra echo.Map) error {
	body := echo.Map{"success": status < http.StatusBadRequest, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}
