package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ejide/gateway/internal/auth"
	"github.com/ejide/gateway/internal/metrics"
)

// Handler registers its routes on the echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

var jwtSkipPaths = map[string]struct{}{
	"/ping":    {},
	"/health":  {},
	"/metrics": {},
}

type Server struct {
	echo *echo.Echo
	addr string
}

// Params holds what the operator API is built from. Protected handlers are
// only registered when JWTSecret is set.
type Params struct {
	Addr      string
	JWTSecret string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Public    []Handler
	Protected []Handler
}

func NewServer(params Params) *Server {
	addr := params.Addr
	if addr == "" {
		addr = ":8080"
	}
	log := params.Logger
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(params.Metrics.Middleware())

	secured := params.JWTSecret != ""
	if secured {
		e.Use(auth.JWTMiddleware(params.JWTSecret, func(c echo.Context) bool {
			return shouldSkipJWT(c.Request().URL.Path)
		}))
	}

	for _, h := range params.Public {
		if h != nil {
			h.Register(e)
		}
	}
	if secured {
		for _, h := range params.Protected {
			if h != nil {
				h.Register(e)
			}
		}
	} else if len(params.Protected) > 0 {
		log.Warn("auth.jwt_secret is empty; operator routes are disabled")
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func shouldSkipJWT(path string) bool {
	_, ok := jwtSkipPaths[path]
	return ok
}

func (s *Server) Start() error                   { return s.echo.Start(s.addr) }
func (s *Server) Stop(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
