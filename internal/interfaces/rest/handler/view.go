package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-player/internal/course"
	"github.com/pot-code/course-player/internal/infrastructure/auth"
	"github.com/pot-code/course-player/internal/infrastructure/validate"
	"github.com/pot-code/course-player/internal/playback"
	"github.com/pot-code/course-player/internal/purchase"
)

type mountRequest struct {
	CourseID string `json:"course_id" validate:"required,max=64"`
}

type selectRequest struct {
	VideoID string `json:"video_id" validate:"required,max=64"`
}

type timeRequest struct {
	CurrentTime float64 `json:"current_time" validate:"min=0"`
	Duration    float64 `json:"duration" validate:"min=0"`
}

type errorRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

type rateRequest struct {
	Rate float64 `json:"rate" validate:"required,min=0.25,max=4"`
}

type purchaseResponse struct {
	RedirectURL string               `json:"redirect_url"`
	Purchase    purchase.ButtonState `json:"purchase"`
}

// ViewKeyHeader carries the view key returned by POST /views, required for anonymous views
const ViewKeyHeader = "X-View-Key"

// ViewHandler course view operations, every route except mount works on /views/:id
type ViewHandler struct {
	registry  *course.Registry
	jwtUtil   *auth.JWTUtil
	validator validate.Validator
}

// NewViewHandler .
func NewViewHandler(registry *course.Registry, jwtUtil *auth.JWTUtil, validator validate.Validator) *ViewHandler {
	return &ViewHandler{registry, jwtUtil, validator}
}

// bind decode the body into dst and validate it, replied is true when a response was written
func (vh *ViewHandler) bind(c echo.Context, dst interface{}) (replied bool, err error) {
	if err := c.Bind(dst); err != nil {
		detail := err.Error()
		if he, ok := err.(*echo.HTTPError); ok && he.Internal != nil {
			detail = he.Internal.Error()
		}
		return true, c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, detail).SetTraceID(traceID(c)))
	}
	validator := vh.validator.Localize(c.Request().Header.Get("Accept-Language"))
	if invalid := validator.Struct(dst); invalid != nil {
		return true, replyValidation(c, "Failed to validate params", invalid)
	}
	return false, nil
}

// withView resolve :id against the registry for the current viewer
func (vh *ViewHandler) withView(c echo.Context, fn func(view *course.Controller) error) error {
	view, err := vh.registry.Get(c.Param("id"), vh.jwtUtil.GetContextViewer(c), c.Request().Header.Get(ViewKeyHeader))
	if err != nil {
		return ReplyError(c, err)
	}
	return fn(view)
}

func replyView(c echo.Context, code int, view *course.View, err error) error {
	if err != nil {
		return ReplyError(c, err)
	}
	return c.JSON(code, view)
}

// HandleMount POST /views
func (vh *ViewHandler) HandleMount(c echo.Context) error {
	req := new(mountRequest)
	if replied, err := vh.bind(c, req); replied {
		return err
	}
	view, err := vh.registry.Mount(c.Request().Context(), vh.jwtUtil.GetContextViewer(c), req.CourseID)
	if err != nil {
		return ReplyError(c, err)
	}
	body := view.View()
	body.Key = view.Key()
	return c.JSON(http.StatusCreated, body)
}

// HandleGet GET /views/:id
func (vh *ViewHandler) HandleGet(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		return c.JSON(http.StatusOK, view.View())
	})
}

// HandleUnmount DELETE /views/:id
func (vh *ViewHandler) HandleUnmount(c echo.Context) error {
	err := vh.registry.Unmount(c.Request().Context(), c.Param("id"),
		vh.jwtUtil.GetContextViewer(c), c.Request().Header.Get(ViewKeyHeader))
	if err != nil {
		return ReplyError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSelect POST /views/:id/select, a locked video is a 200 with playback.state=locked
func (vh *ViewHandler) HandleSelect(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		req := new(selectRequest)
		if replied, err := vh.bind(c, req); replied {
			return err
		}
		v, err := view.Select(c.Request().Context(), req.VideoID)
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandlePlay POST /views/:id/play
func (vh *ViewHandler) HandlePlay(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.Play()
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandlePause POST /views/:id/pause
func (vh *ViewHandler) HandlePause(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.Pause(c.Request().Context())
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleTime POST /views/:id/time, replies with the playback snapshot only
func (vh *ViewHandler) HandleTime(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		req := new(timeRequest)
		if replied, err := vh.bind(c, req); replied {
			return err
		}
		snapshot, err := view.TimeUpdate(req.CurrentTime, req.Duration)
		if err != nil {
			return ReplyError(c, err)
		}
		return c.JSON(http.StatusOK, struct {
			Playback playback.Snapshot `json:"playback"`
		}{snapshot})
	})
}

// HandleEnd POST /views/:id/end
func (vh *ViewHandler) HandleEnd(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.End(c.Request().Context())
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleFail POST /views/:id/error
func (vh *ViewHandler) HandleFail(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		req := new(errorRequest)
		if replied, err := vh.bind(c, req); replied {
			return err
		}
		v, err := view.Fail(c.Request().Context(), req.Reason)
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleRetry POST /views/:id/retry
func (vh *ViewHandler) HandleRetry(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.Retry()
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleRate POST /views/:id/rate
func (vh *ViewHandler) HandleRate(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		req := new(rateRequest)
		if replied, err := vh.bind(c, req); replied {
			return err
		}
		v, err := view.SetRate(req.Rate)
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleDismissLock POST /views/:id/dismiss-lock
func (vh *ViewHandler) HandleDismissLock(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.DismissLock()
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandleRefreshMedia POST /views/:id/media/refresh
func (vh *ViewHandler) HandleRefreshMedia(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.RefreshMedia(c.Request().Context())
		return replyView(c, http.StatusOK, v, err)
	})
}

// HandlePurchase POST /views/:id/purchase
func (vh *ViewHandler) HandlePurchase(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		url, err := view.Purchase(c.Request().Context())
		if err != nil {
			return ReplyError(c, err)
		}
		return c.JSON(http.StatusOK, &purchaseResponse{
			RedirectURL: url,
			Purchase:    purchase.ButtonRedirecting,
		})
	})
}

// HandleCheckoutReturn POST /views/:id/checkout-return
func (vh *ViewHandler) HandleCheckoutReturn(c echo.Context) error {
	return vh.withView(c, func(view *course.Controller) error {
		v, err := view.CheckoutReturned(c.Request().Context())
		return replyView(c, http.StatusOK, v, err)
	})
}
