package handler

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	infra "github.com/pot-code/course-player/internal/infrastructure"
	"github.com/pot-code/course-player/internal/infrastructure/auth"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/validate"
	"go.uber.org/zap"
)

// pending events per connection before new ones are dropped
const streamBuffer = 16

// ProgressHandler pushes progress notifications of one course to a websocket,
// so views rendered outside this process (dashboard cards, other tabs) stay in sync
type ProgressHandler struct {
	hub       notify.Subscriber
	ws        *infra.Websocket
	jwtUtil   *auth.JWTUtil
	validator validate.Validator
	logger    *zap.Logger
}

// NewProgressHandler .
func NewProgressHandler(
	hub notify.Subscriber,
	ws *infra.Websocket,
	jwtUtil *auth.JWTUtil,
	validator validate.Validator,
	logger *zap.Logger,
) *ProgressHandler {
	return &ProgressHandler{hub, ws, jwtUtil, validator, logger}
}

// HandleStream GET /ws/progress?course_id=, requires an authenticated viewer
func (ph *ProgressHandler) HandleStream(c echo.Context) error {
	courseID := c.QueryParam("course_id")
	if invalid := ph.validator.Empty("course_id", courseID); invalid != nil {
		return replyValidation(c, "Failed to validate params", invalid)
	}
	viewer := ph.jwtUtil.GetContextViewer(c)
	key := notify.Key{UserID: viewer.UserID, CourseID: courseID}
	return ph.ws.WithHeartbeat(func(ctx context.Context, conn *websocket.Conn) error {
		return ph.stream(ctx, conn, key)
	})(c)
}

func (ph *ProgressHandler) stream(ctx context.Context, conn *websocket.Conn, key notify.Key) error {
	logger := ph.logger.With(zap.String("user.id", key.UserID), zap.String("course.id", key.CourseID))
	events := make(chan notify.Event, streamBuffer)
	unsubscribe, err := ph.hub.Subscribe(key, func(ev notify.Event) {
		select {
		case events <- ev:
		default:
			logger.Warn("Progress stream is lagging, event dropped", zap.String("video.id", ev.VideoID))
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	logger.Debug("Progress stream opened")
	defer logger.Debug("Progress stream closed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(ph.ws.WriteWait()))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Failed to write progress event", zap.Error(err))
				return nil
			}
		}
	}
}
