package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/backend"
	"github.com/pot-code/course-player/internal/infrastructure/validate"
)

// RESTStandardError response error
type RESTStandardError struct {
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewRESTStandardError .
func NewRESTStandardError(code int, detail string) *RESTStandardError {
	return &RESTStandardError{
		Code:   code,
		Title:  http.StatusText(code),
		Detail: detail,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

// SetTraceID .
func (re RESTStandardError) SetTraceID(traceID string) RESTStandardError {
	re.TraceID = traceID
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	InvalidParams []*validate.FieldError `json:"invalid_params"`
}

// NewRESTValidationError .
func NewRESTValidationError(code int, detail string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:   code,
			Title:  http.StatusText(code),
			Detail: detail,
		},
		InvalidParams: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}

// SetTraceID .
func (rve RESTValidationError) SetTraceID(traceID string) RESTValidationError {
	rve.RESTStandardError.TraceID = traceID
	return rve
}

// error type tags, clients branch on them instead of parsing detail
const (
	typeAuthRequired     = "auth_required"
	typeNotFound         = "not_found"
	typeInvalidState     = "invalid_state"
	typeInvalidParam     = "invalid_param"
	typeRetriesExhausted = "retries_exhausted"
	typeCheckoutFailed   = "checkout_failed"
	typeCheckoutBusy     = "checkout_in_progress"
	typeUpstream         = "upstream"
)

// StatusOf map err to an HTTP status and error type, ok is false for unknown errors
func StatusOf(err error) (code int, errType string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized, typeAuthRequired, true
	case errors.Is(err, domain.ErrViewNotFound), errors.Is(err, domain.ErrVideoNotFound):
		return http.StatusNotFound, typeNotFound, true
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrMediaNotReady):
		return http.StatusConflict, typeInvalidState, true
	case errors.Is(err, domain.ErrInvalidRate):
		return http.StatusBadRequest, typeInvalidParam, true
	case errors.Is(err, domain.ErrRetriesExhausted):
		return http.StatusConflict, typeRetriesExhausted, true
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict, typeCheckoutBusy, true
	case errors.Is(err, domain.ErrCheckoutCreationFailed):
		return http.StatusBadGateway, typeCheckoutFailed, true
	}
	if kind, isAPI := backend.KindOf(err); isAPI {
		switch kind {
		case backend.KindNotFound:
			return http.StatusNotFound, typeNotFound, true
		case backend.KindUnauthorized:
			return http.StatusUnauthorized, typeAuthRequired, true
		case backend.KindNetwork:
			return http.StatusServiceUnavailable, typeUpstream, true
		default:
			return http.StatusBadGateway, typeUpstream, true
		}
	}
	return http.StatusInternalServerError, "", false
}

// ReplyError write err as RESTStandardError, unknown errors are returned to
// the ErrorHandling middleware untouched
func ReplyError(c echo.Context, err error) error {
	code, errType, ok := StatusOf(err)
	if !ok {
		return err
	}
	body := NewRESTStandardError(code, err.Error())
	body.Type = errType
	return c.JSON(code, body.SetTraceID(traceID(c)))
}

func replyValidation(c echo.Context, detail string, params []*validate.FieldError) error {
	return c.JSON(http.StatusBadRequest,
		NewRESTValidationError(http.StatusBadRequest, detail, params).SetTraceID(traceID(c)))
}

func traceID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
