package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/middleware"
	"github.com/Skotchmaster/auth_gateway/internal/service"
)

type AuthHTTP struct {
	Sessions *service.SessionManager
	Cookies  middleware.CookieConfig
	Now      func() time.Time
}

type registerRequest struct {
	Username string `json:"username" form:"username" validate:"required,max=64"`
	Password string `json:"password" form:"password" validate:"required,max=128"`
	Email    string `json:"email" form:"email" validate:"omitempty,email,max=254"`
}

type loginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
}

type TokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

func (h *AuthHTTP) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AuthHTTP) respond(c echo.Context, status int, pair *service.TokenPair) error {
	now := h.now()
	middleware.SetTokenCookies(c, h.Cookies, pair, now)
	return c.JSON(status, TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        pair.AccessExpiresIn(now),
		RefreshExpiresIn: pair.RefreshExpiresIn(now),
	})
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}

	pair, err := h.Sessions.Register(ctx, req.Username, req.Password, req.Email)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusCreated, pair)
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return err
	}

	pair, err := h.Sessions.Login(ctx, req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, pair)
}

// Refresh takes the refresh token from the cookie, the Refresh-Token
// header, the Authorization header or the body, in that order.
func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	token := middleware.ExtractRefreshToken(c.Request())
	if token == "" {
		token = service.StripBearer(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	if token == "" {
		var req refreshRequest
		if err := c.Bind(&req); err == nil {
			token = req.RefreshToken
		}
	}
	if token == "" {
		middleware.ClearTokenCookies(c, h.Cookies)
		l.Warn("refresh_failed", "status", 401, "reason", "no refresh token")
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
	}

	pair, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			middleware.ClearTokenCookies(c, h.Cookies)
		}
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, pair)
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	token := middleware.ExtractRefreshToken(c.Request())
	if token == "" {
		var req refreshRequest
		if err := c.Bind(&req); err == nil {
			token = req.RefreshToken
		}
	}
	h.Sessions.LogOut(ctx, token)

	middleware.ClearTokenCookies(c, h.Cookies)
	l.Info("successful_logout")
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}
