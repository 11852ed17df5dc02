package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/config"
	"github.com/Skotchmaster/auth_gateway/internal/middleware"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/oauth"
	"github.com/Skotchmaster/auth_gateway/internal/service"
	loggingmw "github.com/Skotchmaster/auth_gateway/pkg/middleware/logging"
)

type Deps struct {
	Sessions  *service.SessionManager
	Federator *oauth.Federator
	OAuth     OAuthClient
	States    oauth.StateStore

	Cookies   middleware.CookieConfig
	Whitelist []string
	LoginURL  string
	Routes    []config.Route
	BodyLimit string
	// CSRF is off when nil.
	CSRF      *middleware.CSRFConfig
	// Audit enables the admin audit endpoint when set.
	Audit     AuditSearcher

	SuccessRedirect string
	FailureRedirect string

	Logger    *slog.Logger
	Ready     func(ctx context.Context) error
	Transport http.RoundTripper
	Now       func() time.Time
}

func Register(e *echo.Echo, d *Deps) error {
	e.Validator = newValidator()

	e.Use(middleware.Common(middleware.CommonConfig{
		HSTS:      d.Cookies.Secure,
		BodyLimit: d.BodyLimit,
	})...)
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e.Use(loggingmw.RequestLogger(logger))

	whitelist := d.Whitelist
	if len(whitelist) == 0 {
		whitelist = middleware.DefaultWhitelist
	}
	e.Use(middleware.GatewayAuth(d.Sessions, middleware.AuthFilterConfig{
		Whitelist: whitelist,
		LoginURL:  d.LoginURL,
		Cookies:   d.Cookies,
		Now:       d.Now,
	}))
	if d.CSRF != nil {
		cfg := *d.CSRF
		cfg.SkipPrefixes = slices.Concat(cfg.SkipPrefixes, whitelist)
		e.Use(middleware.CSRF(cfg))
	}

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return c.NoContent(http.StatusOK)
	})

	authH := &AuthHTTP{Sessions: d.Sessions, Cookies: d.Cookies, Now: d.Now}
	userH := &UserHTTP{Sessions: d.Sessions}

	auth := e.Group("/api/v1/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/refresh", authH.Refresh)
	auth.POST("/logout", authH.LogOut)
	auth.GET("/me", userH.Me)

	if d.OAuth != nil && d.Federator != nil && d.States != nil {
		oauthH := &OAuthHTTP{
			Client:          d.OAuth,
			States:          d.States,
			Federator:       d.Federator,
			Sessions:        d.Sessions,
			Cookies:         d.Cookies,
			Now:             d.Now,
			SuccessRedirect: d.SuccessRedirect,
			FailureRedirect: d.FailureRedirect,
		}
		auth.GET("/oauth2/providers", oauthH.Providers)
		auth.GET("/oauth2/authorize/:provider", oauthH.Authorize)
		auth.Match([]string{http.MethodGet, http.MethodPost}, "/oauth2/callback/:provider", oauthH.Callback)
	}

	e.GET("/api/v1/user/profile", userH.Profile)

	if d.Audit != nil {
		auditH := &AuditHTTP{Audit: d.Audit}
		e.GET("/api/v1/audit/events", auditH.Events, middleware.RequireRole(models.RoleAdmin))
	}

	transport := d.Transport
	if transport == nil {
		transport = newTransport()
	}
	for _, r := range d.Routes {
		h, err := newProxy(r.Target, transport)
		if err != nil {
			return err
		}
		var mws []echo.MiddlewareFunc
		if len(r.Roles) > 0 {
			mws = append(mws, middleware.RequireRole(r.Roles...))
		}
		e.Any(r.Prefix, h, mws...)
		e.Any(r.Prefix+"/*", h, mws...)
	}
	return nil
}
