package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-player/internal/infrastructure/auth"
	"github.com/pot-code/course-player/internal/interfaces/rest/handler"
)

// ValidateTokenOption ...
type ValidateTokenOption struct {
	// InBlackList reports revoked tokens
	InBlackList func(ctx context.Context, token string) (bool, error)
	// Optional lets requests without a token through as anonymous viewers,
	// a present but invalid token is still rejected
	Optional bool
}

// RefreshTokenOption ...
type RefreshTokenOption struct {
	Threshold time.Duration
}

// VerifyToken validate JWT and bind the viewer to the request
func VerifyToken(ju *auth.JWTUtil, options ...*ValidateTokenOption) echo.MiddlewareFunc {
	inBlacklist := func(context.Context, string) (bool, error) { return false, nil }
	optional := false
	if len(options) > 0 {
		option := options[0]
		if option.InBlackList != nil {
			inBlacklist = option.InBlackList
		}
		optional = option.Optional
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ju.ExtractToken(c)
			if err != nil {
				if optional {
					return next(c)
				}
				return unauthorized(c, "Authentication is required")
			}

			if ok, err := inBlacklist(c.Request().Context(), tokenStr); err != nil {
				return err
			} else if ok {
				ju.ClearClientToken(c)
				return unauthorized(c, "Token has been revoked")
			}

			claims, err := ju.Validate(tokenStr)
			if err != nil {
				ju.ClearClientToken(c)
				return unauthorized(c, "Invalid token")
			}
			ju.SetContextViewer(c, claims, tokenStr)
			ju.SetContextClaims(c, claims)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, detail string) error {
	return c.JSON(http.StatusUnauthorized,
		handler.NewRESTStandardError(http.StatusUnauthorized, detail).
			SetTraceID(c.Response().Header().Get(echo.HeaderXRequestID)))
}

// RefreshToken refresh jwt if necessary, must be chained after VerifyToken
func RefreshToken(ju *auth.JWTUtil, options ...*RefreshTokenOption) echo.MiddlewareFunc {
	threshold := 5 * time.Minute
	if len(options) > 0 {
		if option := options[0]; option.Threshold > 0 {
			threshold = option.Threshold
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ju.GetContextClaims(c)
			if claims == nil {
				return next(c)
			}
			if claims.TimeRemaining() < threshold {
				ju.RefreshToken(claims)
				tokenStr, err := ju.Sign(claims)
				if err != nil {
					return err
				}
				ju.SetClientToken(c, tokenStr)
				// views mounted by this request carry the new token
				ju.SetContextViewer(c, claims, tokenStr)
			}
			return next(c)
		}
	}
}
