package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/service"
	"github.com/Skotchmaster/auth_gateway/pkg/identity"
)

const CtxUser = "auth_user"

// DefaultWhitelist is the set of path prefixes served without a session.
var DefaultWhitelist = []string{"/api/v1/auth/", "/api/v1/public/", "/health/", "/oauth2/"}

var errNoCredentials = errors.New("no credentials")

type Authenticator interface {
	Resolve(ctx context.Context, accessToken string) (*models.User, error)
	Refresh(ctx context.Context, refreshToken string) (*service.TokenPair, error)
}

type AuthFilterConfig struct {
	Whitelist []string
	LoginURL  string
	Cookies   CookieConfig
	Now       func() time.Time
}

func (cfg AuthFilterConfig) whitelisted(path string) bool {
	for _, p := range cfg.Whitelist {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (cfg AuthFilterConfig) now() time.Time {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now()
}

// GatewayAuth authenticates every request that is not whitelisted. A
// missing or rejected access token gets one silent refresh attempt before
// the request is refused.
func GatewayAuth(auth Authenticator, cfg AuthFilterConfig) echo.MiddlewareFunc {
	if cfg.Whitelist == nil {
		cfg.Whitelist = DefaultWhitelist
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/login"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			identity.Strip(req.Header)

			if req.Method == http.MethodOptions || cfg.whitelisted(req.URL.Path) {
				return next(c)
			}

			ctx := req.Context()
			l := logging.FromContext(ctx).With("mw", "gateway_auth")

			access := ExtractAccessToken(req)
			authErr := errNoCredentials
			if access != "" {
				user, err := auth.Resolve(ctx, access)
				if err == nil {
					return forward(c, user, next)
				}
				if errors.Is(err, service.ErrUnavailable) {
					l.Error("auth_unavailable", "status", 503, "error", err)
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
				}
				authErr = err
			}

			refresh := ExtractRefreshToken(req)
			if refresh == "" {
				l.Info("auth_rejected", "status", 401, "reason", authErr.Error())
				return reject(c, cfg, authErr, access != "")
			}

			pair, err := auth.Refresh(ctx, refresh)
			if err != nil {
				if errors.Is(err, service.ErrUnavailable) {
					l.Error("auth_unavailable", "status", 503, "error", err)
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
				}
				l.Info("auth_refresh_failed", "status", 401, "reason", err.Error())
				return reject(c, cfg, err, true)
			}
			SetTokenCookies(c, cfg.Cookies, pair, cfg.now())

			user, err := auth.Resolve(ctx, pair.AccessToken)
			if err != nil {
				if errors.Is(err, service.ErrUnavailable) {
					l.Error("auth_unavailable", "status", 503, "error", err)
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
				}
				l.Warn("auth_rejected", "status", 401, "reason", "refreshed token did not resolve", "error", err)
				return reject(c, cfg, err, true)
			}
			if bearer(req.Header.Get(echo.HeaderAuthorization)) != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+pair.AccessToken)
			}
			l.Debug("auth_refreshed", "user_id", user.ID.String())
			return forward(c, user, next)
		}
	}
}

// forward hands the request on with the identity headers set and the
// session cookies removed; downstream services only see X-User-*.
func forward(c echo.Context, user *models.User, next echo.HandlerFunc) error {
	StripTokenCookies(c.Request())
	identity.Apply(c.Request().Header, identity.Identity{
		UserID:   user.ID.String(),
		Username: user.Username,
		Roles:    user.Roles,
	})
	c.Set(CtxUser, user)
	return next(c)
}

func reject(c echo.Context, cfg AuthFilterConfig, err error, clear bool) error {
	if clear {
		ClearTokenCookies(c, cfg.Cookies)
	}

	desc := "authentication required"
	switch {
	case errors.Is(err, service.ErrExpired):
		desc = "token expired"
	case errors.Is(err, service.ErrInvalidToken):
		desc = "invalid token"
	case errors.Is(err, errNoCredentials):
	default:
		desc = "authentication failed"
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate,
		fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, desc))

	if isAPIRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, desc)
	}
	return c.Redirect(http.StatusFound, cfg.LoginURL)
}

func isAPIRequest(r *http.Request) bool {
	accept := r.Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, "json") ||
		strings.Contains(accept, "xml") ||
		strings.Contains(r.URL.Path, "/api/")
}

// UserFromContext returns the user stored by GatewayAuth.
func UserFromContext(c echo.Context) (*models.User, bool) {
	u, ok := c.Get(CtxUser).(*models.User)
	return u, ok && u != nil
}
