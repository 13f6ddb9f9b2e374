// Package httpapi implements the admin HTTP surface (C8): a bearer-token
// protected REST API plus a minimal status panel, both reading and
// mutating the core registry from outside the signalling channel.
package httpapi

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"walkietalkie/internal/core"
)

// Server wraps an *echo.Echo bound to the admin routes of §6.
type Server struct {
	echo   *echo.Echo
	state  *core.State
	token  string
	logger *slog.Logger
	panel  *template.Template
}

// New constructs the admin HTTP server. token is the shared bearer secret
// (ADMIN_TOKEN). New does not substitute a default for an empty token;
// with an empty token every admin request gets a 401, since a missing
// token is always refused.
func New(state *core.State, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, state: state, token: token, logger: logger, panel: template.Must(template.New("panel").Parse(panelTemplate))}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying router, e.g. for httptest.NewServer in tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleHealth)
	s.echo.GET("/status", s.handlePublicStatus)

	admin := s.echo.Group("/admin", s.authMiddleware)
	admin.GET("/status", s.handleAdminStatus)
	admin.GET("/panel", s.handlePanel)
	admin.POST("/channel/create", s.handleCreateChannel)
	admin.DELETE("/channel/:channel", s.handleDeleteChannel)
	admin.POST("/client/:name/join", s.handleClientJoin)
	admin.POST("/client/:name/leave", s.handleClientLeave)
	admin.POST("/client/:name/mute", s.handleClientMute)
	admin.POST("/client/:name/kick", s.handleClientKick)
}

// authMiddleware enforces the shared bearer token via header or query
// param (§6). Missing or mismatched tokens get a 401 JSON body.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get("x-admin-token")
		if got == "" {
			got = c.QueryParam("token")
		}
		if got == "" || got != s.token {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
		}
		return next(c)
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			logger.Debug("admin request", "method", c.Request().Method, "path", c.Path(), "status", c.Response().Status)
			return err
		}
	}
}

// jsonErrorHandler renders every error (echo's own HTTP errors included)
// as a consistent {"error": msg} body.
func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, echo.Map{"error": msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "walkie-talkie relay")
}

type statusResponse struct {
	Uptime       string                 `json:"uptime"`
	TotalClients int                    `json:"totalClients"`
	Channels     []core.ChannelSnapshot `json:"channels"`
}

func (s *Server) handlePublicStatus(c echo.Context) error {
	snap := s.state.Snapshot()
	now := time.Now()
	return c.JSON(http.StatusOK, statusResponse{
		Uptime:       humanize.RelTime(now.Add(-snap.Uptime), now, "", ""),
		TotalClients: len(snap.Sessions),
		Channels:     snap.Channels,
	})
}

func (s *Server) handleAdminStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.state.Snapshot())
}

type createChannelRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) handleCreateChannel(c echo.Context) error {
	var req createChannelRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing channel")
	}
	if err := s.state.AdminCreateChannel(req.Channel); err != nil {
		return echo.NewHTTPError(http.StatusConflict, "channel exists")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "channel": req.Channel})
}

func (s *Server) handleDeleteChannel(c echo.Context) error {
	name := c.Param("channel")
	if err := s.state.AdminDeleteChannel(name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such channel")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type joinRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) handleClientJoin(c echo.Context) error {
	name := c.Param("name")
	var req joinRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing channel")
	}
	if err := s.state.AdminForceJoin(name, req.Channel); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handleClientLeave(c echo.Context) error {
	name := c.Param("name")
	if err := s.state.AdminForceLeave(name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (s *Server) handleClientMute(c echo.Context) error {
	name := c.Param("name")
	var req muteRequest
	_ = c.Bind(&req) // absent body is valid; default is "muted"
	muted := true
	if req.Muted != nil {
		muted = *req.Muted
	}
	if err := s.state.AdminForceMute(name, muted); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "name": name, "muted": muted})
}

func (s *Server) handleClientKick(c echo.Context) error {
	name := c.Param("name")
	if err := s.state.AdminKick(name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handlePanel(c echo.Context) error {
	snap := s.state.Snapshot()
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	return s.panel.Execute(c.Response(), snap)
}
