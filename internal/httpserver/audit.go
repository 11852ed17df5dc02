package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/util"
)

type AuditSearcher interface {
	Search(ctx context.Context, q events.AuditQuery) (int64, []events.Event, error)
}

type AuditHTTP struct {
	Audit AuditSearcher
}

// Events lists audit events, newest first. Filters: type, username,
// user_id; paging: page, size.
func (h *AuditHTTP) Events(c echo.Context) error {
	ctx := c.Request().Context()
	from, size := util.Paginate(c.QueryParam("page"), c.QueryParam("size"))

	total, evs, err := h.Audit.Search(ctx, events.AuditQuery{
		Type:     c.QueryParam("type"),
		Username: c.QueryParam("username"),
		UserID:   c.QueryParam("user_id"),
		From:     from,
		Size:     size,
	})
	if err != nil {
		logging.FromContext(ctx).Error("audit_search_failed", "status", 503, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit search unavailable")
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "events": evs})
}
