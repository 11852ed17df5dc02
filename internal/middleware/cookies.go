package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/service"
)

const (
	AccessCookie       = "accessToken"
	RefreshCookie      = "refreshToken"
	RefreshTokenHeader = "Refresh-Token"
)

type CookieConfig struct {
	Secure bool
	Domain string
	Path   string
}

func (cfg CookieConfig) path() string {
	if cfg.Path == "" {
		return "/"
	}
	return cfg.Path
}

func CreateCookie(cfg CookieConfig, name, value string, maxAge int64) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.path(),
		Domain:   cfg.Domain,
		MaxAge:   int(maxAge),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func DeleteCookie(cfg CookieConfig, name string) *http.Cookie {
	c := CreateCookie(cfg, name, "", -1)
	c.Expires = time.Unix(0, 0)
	return c
}

// SetTokenCookies writes both tokens with MaxAge set to their remaining
// lifetime at now.
func SetTokenCookies(c echo.Context, cfg CookieConfig, pair *service.TokenPair, now time.Time) {
	c.SetCookie(CreateCookie(cfg, AccessCookie, pair.AccessToken, pair.AccessExpiresIn(now)))
	c.SetCookie(CreateCookie(cfg, RefreshCookie, pair.RefreshToken, pair.RefreshExpiresIn(now)))
}

func ClearTokenCookies(c echo.Context, cfg CookieConfig) {
	c.SetCookie(DeleteCookie(cfg, AccessCookie))
	c.SetCookie(DeleteCookie(cfg, RefreshCookie))
}

// ExtractAccessToken prefers the Authorization bearer token over the cookie.
func ExtractAccessToken(r *http.Request) string {
	if t := bearer(r.Header.Get(echo.HeaderAuthorization)); t != "" {
		return t
	}
	return cookieValue(r, AccessCookie)
}

// ExtractRefreshToken prefers the cookie over the Refresh-Token header.
func ExtractRefreshToken(r *http.Request) string {
	if t := cookieValue(r, RefreshCookie); t != "" {
		return t
	}
	return bearer(r.Header.Get(RefreshTokenHeader))
}

func bearer(v string) string {
	const prefix = "Bearer "
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// StripTokenCookies removes the access and refresh cookies from the request's
// Cookie header and keeps every other cookie.
func StripTokenCookies(r *http.Request) {
	cookies := r.Cookies()
	kept := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Name == AccessCookie || ck.Name == RefreshCookie {
			continue
		}
		kept = append(kept, (&http.Cookie{Name: ck.Name, Value: ck.Value}).String())
	}
	if len(kept) == len(cookies) {
		return
	}
	if len(kept) == 0 {
		r.Header.Del("Cookie")
		return
	}
	r.Header.Set("Cookie", strings.Join(kept, "; "))
}
