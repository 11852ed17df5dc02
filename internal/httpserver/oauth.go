package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/middleware"
	"github.com/Skotchmaster/auth_gateway/internal/oauth"
	"github.com/Skotchmaster/auth_gateway/internal/service"
)

const oauthFailureMessage = "Authentication failed"

// OAuthClient is the provider side of the authorization code flow.
type OAuthClient interface {
	Enabled() []oauth.Provider
	AuthCodeURL(p oauth.Provider, state string) (string, error)
	FetchAttributes(ctx context.Context, p oauth.Provider, code string) (oauth.Attributes, error)
}

type OAuthHTTP struct {
	Client    OAuthClient
	States    oauth.StateStore
	Federator *oauth.Federator
	Sessions  *service.SessionManager
	Cookies   middleware.CookieConfig
	Now       func() time.Time

	SuccessRedirect string
	FailureRedirect string
}

type providerInfo struct {
	Provider     string `json:"provider"`
	AuthorizeURL string `json:"authorizeUrl"`
}

func (h *OAuthHTTP) Providers(c echo.Context) error {
	out := make([]providerInfo, 0, len(oauth.Providers))
	for _, p := range h.Client.Enabled() {
		out = append(out, providerInfo{
			Provider:     string(p),
			AuthorizeURL: "/api/v1/auth/oauth2/authorize/" + string(p),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OAuthHTTP) Authorize(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "oauth2_authorize")

	p, err := oauth.ParseProvider(c.Param("provider"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}

	state, err := h.States.Issue(ctx, p)
	if err != nil {
		l.Error("authorize_failed", "status", 503, "provider", string(p), "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable")
	}
	target, err := h.Client.AuthCodeURL(p, state)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderNotConfigured) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.Redirect(http.StatusFound, target)
}

// Callback completes the flow. Apple posts the result as a form, the
// others redirect with a query string; FormValue reads both.
func (h *OAuthHTTP) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "oauth2_callback", "provider", c.Param("provider"))

	fail := func(reason string, err error) error {
		l.Warn("oauth2_login_failed", "reason", reason, "error", err)
		return c.Redirect(http.StatusFound, withQuery(h.FailureRedirect, "error", oauthFailureMessage))
	}

	p, err := oauth.ParseProvider(c.Param("provider"))
	if err != nil {
		return fail("unknown provider", err)
	}
	if e := c.FormValue("error"); e != "" {
		return fail("provider returned error", errors.New(e))
	}
	if err := h.States.Consume(ctx, p, c.FormValue("state")); err != nil {
		return fail("state mismatch", err)
	}
	code := c.FormValue("code")
	if code == "" {
		return fail("missing code", nil)
	}

	attrs, err := h.Client.FetchAttributes(ctx, p, code)
	if err != nil {
		return fail("provider exchange", err)
	}
	user, err := h.Federator.Resolve(ctx, p, attrs)
	if err != nil {
		return fail("federation", err)
	}
	pair, err := h.Sessions.IssueFor(ctx, user)
	if err != nil {
		return fail("issue tokens", err)
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	middleware.SetTokenCookies(c, h.Cookies, pair, now)
	l.Info("oauth2_login_successful", "user_id", user.ID.String())
	return c.Redirect(http.StatusFound, withQuery(h.SuccessRedirect, "token", pair.AccessToken))
}

// withQuery appends key=value using %20 for spaces.
func withQuery(base, key, value string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + key + "=" + url.PathEscape(value)
}
