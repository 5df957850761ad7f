package rest

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/pot-code/course-player/internal/course"
	infra "github.com/pot-code/course-player/internal/infrastructure"
	"github.com/pot-code/course-player/internal/infrastructure/auth"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/validate"
	"github.com/pot-code/course-player/internal/interfaces/rest/handler"
	"github.com/pot-code/course-player/internal/interfaces/rest/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// Pinger a dependency probed by /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server http transport of the player service
type Server struct {
	app    *echo.Echo
	addr   string
	logger *zap.Logger
}

// NewServer create the echo app and register every route
func NewServer(
	option *infra.AppConfig,
	registry *course.Registry,
	hub notify.Subscriber,
	revoked func(ctx context.Context, token string) (bool, error),
	probes map[string]Pinger,
	logger *zap.Logger,
) *Server {
	var (
		app       = echo.New()
		validator = validate.NewValidator()
		websocket = infra.NewWebsocket()
		jwtUtil   = auth.NewJWTUtil(option.Security.JWTMethod,
			option.Security.JWTSecret,
			option.Security.TokenName,
			option.Security.TokenTTL)
		optionalToken = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: revoked,
			Optional:    true,
		})
		requiredToken = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: revoked,
		})
		refreshMiddleware = middleware.RefreshToken(jwtUtil)
		isWebsocket       = func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/api/v1/ws/")
		}
	)
	app.HideBanner = true

	registerLivenessProbe(app, probes)
	app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)
	}

	app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasPrefix(path, "/healthz") || strings.HasPrefix(path, "/metrics")
		},
	}))
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, err error) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				if !c.Response().Committed {
					c.JSON(http.StatusInternalServerError,
						handler.NewRESTStandardError(http.StatusInternalServerError, err.Error()).SetTraceID(traceID),
					)
				}
				logger.Error(err.Error(), zap.String("trace.id", traceID))
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORSWithConfig(echo_middleware.CORSConfig{
		AllowOrigins:     option.CORSOrigins,
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, handler.ViewKeyHeader},
	}))
	app.Use(middleware.AbortRequest(&middleware.AbortRequestOption{
		Skipper: isWebsocket,
		Timeout: option.RequestTimeout,
	}))

	var (
		ViewHandler     = handler.NewViewHandler(registry, jwtUtil, validator)
		ProgressHandler = handler.NewProgressHandler(hub, websocket, jwtUtil, validator, logger)
	)

	createEndpoint(app,
		&endpoint{
			apiVersion:  "api/v1",
			middlewares: []echo.MiddlewareFunc{echo_middleware.RequestID(), middleware.SetTraceLogger(logger)},
			groups: []*apiGroup{
				{
					prefix:      "/views",
					middlewares: []echo.MiddlewareFunc{optionalToken, refreshMiddleware},
					routes: []*route{
						{"POST", "", ViewHandler.HandleMount, nil},
						{"GET", "/:id", ViewHandler.HandleGet, nil},
						{"DELETE", "/:id", ViewHandler.HandleUnmount, nil},
						{"POST", "/:id/select", ViewHandler.HandleSelect, nil},
						{"POST", "/:id/play", ViewHandler.HandlePlay, nil},
						{"POST", "/:id/pause", ViewHandler.HandlePause, nil},
						{"POST", "/:id/time", ViewHandler.HandleTime, nil},
						{"POST", "/:id/end", ViewHandler.HandleEnd, nil},
						{"POST", "/:id/error", ViewHandler.HandleFail, nil},
						{"POST", "/:id/retry", ViewHandler.HandleRetry, nil},
						{"POST", "/:id/rate", ViewHandler.HandleRate, nil},
						{"POST", "/:id/dismiss-lock", ViewHandler.HandleDismissLock, nil},
						{"POST", "/:id/media/refresh", ViewHandler.HandleRefreshMedia, nil},
						{"POST", "/:id/purchase", ViewHandler.HandlePurchase, nil},
						{"POST", "/:id/checkout-return", ViewHandler.HandleCheckoutReturn, nil},
					},
				},
				{
					prefix:      "/ws",
					middlewares: []echo.MiddlewareFunc{requiredToken},
					routes: []*route{
						{"GET", "/progress", ProgressHandler.HandleStream, nil},
					},
				},
			},
		})

	printRoutes(app, logger)
	return &Server{
		app:    app,
		addr:   fmt.Sprintf("%s:%d", option.Host, option.Port),
		logger: logger,
	}
}

// Handler the underlying http handler
func (s *Server) Handler() http.Handler {
	return s.app
}

// Start listen and serve until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Server started", zap.String("server.address", s.addr))
	if err := s.app.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stop accepting requests and wait for running ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if !strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			logger.Debug("Registered route", zap.String("method", route.Method), zap.String("path", route.Path))
		}
	}
}

func registerLivenessProbe(app *echo.Echo, probes map[string]Pinger) {
	app.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(probes))
		healthy := true
		for name, probe := range probes {
			if err := probe.Ping(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
			} else {
				status[name] = "ok"
			}
		}
		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		return c.JSON(http.StatusOK, status)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
