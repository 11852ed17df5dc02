package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/middleware"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/service"
)

type UserResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
	Provider string   `json:"provider,omitempty"`
}

func userResponse(u *models.User) UserResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:       u.ID.String(),
		Username: u.Username,
		Email:    u.EmailValue(),
		Roles:    roles,
		Provider: u.ProviderValue(),
	}
}

type UserHTTP struct {
	Sessions *service.SessionManager
}

// Me resolves the caller from its own access token. It sits on a
// whitelisted path so the filter does not refresh on its behalf.
func (h *UserHTTP) Me(c echo.Context) error {
	token := middleware.ExtractAccessToken(c.Request())
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	user, err := h.Sessions.Resolve(c.Request().Context(), token)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, userResponse(user))
}

// Profile returns the user authenticated by the gateway filter.
func (h *UserHTTP) Profile(c echo.Context) error {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return c.JSON(http.StatusOK, userResponse(user))
}
