package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"
)

type CommonConfig struct {
	// HSTS adds Strict-Transport-Security; only meaningful behind TLS.
	HSTS bool
	// BodyLimit such as "2M"; empty means unlimited.
	BodyLimit string
}

// Common is the stack every request passes before the auth filter.
// A client supplied X-Request-ID is kept, otherwise a uuid is issued.
func Common(cfg CommonConfig) []echo.MiddlewareFunc {
	secure := ecM.DefaultSecureConfig
	if cfg.HSTS {
		secure.HSTSMaxAge = 31536000
	}

	mws := []echo.MiddlewareFunc{
		ecM.Recover(),
		ecM.RequestIDWithConfig(ecM.RequestIDConfig{Generator: uuid.NewString}),
		ecM.SecureWithConfig(secure),
	}
	if cfg.BodyLimit != "" {
		mws = append(mws, ecM.BodyLimit(cfg.BodyLimit))
	}
	return mws
}
