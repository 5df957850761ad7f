package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-player/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := echo.New()
	app.Use(Logging(zap.New(core), &LoggingConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/healthz" },
	}))
	app.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	app.GET("/views/:id", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })
	app.GET("/boom", func(c echo.Context) error { return c.NoContent(http.StatusBadGateway) })

	for _, path := range []string{"/healthz", "/views/v1", "/boom"} {
		app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "/views/v1", entries[0].ContextMap()["url.path"])
	assert.Equal(t, []interface{}{"v1"}, entries[0].ContextMap()["route.params.value"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusBadGateway, entries[1].ContextMap()["http.response.status_code"])
}

func TestSetTraceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	app := echo.New()
	app.Use(SetTraceLogger(zap.New(core)))
	app.GET("/", func(c echo.Context) error {
		logging.ExtractLoggerFromContext(c.Request().Context()).Info("inside")
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(echo.HeaderXRequestID, "rid-1")
	app.ServeHTTP(rec, req)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "rid-1", logs.All()[0].ContextMap()["trace.id"])
}
