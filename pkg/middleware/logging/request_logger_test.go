package loggingmw

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		wantCode  int
		wantLevel string
	}{
		{"ok", func(c echo.Context) error {
			logging.FromContext(c.Request().Context()).Info("inside")
			return c.NoContent(http.StatusOK)
		}, http.StatusOK, "INFO"},
		{"client error", func(echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "nope")
		}, http.StatusUnauthorized, "WARN"},
		{"server error", func(echo.Context) error {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
		}, http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			e := echo.New()
			e.Use(ecM.RequestID(), RequestLogger(logging.NewWithWriter(&buf, "debug")))
			e.GET("/x", tt.handler)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
			var last map[string]any
			require.NoError(t, json.Unmarshal(lines[len(lines)-1], &last))
			assert.Equal(t, "request completed", last["msg"])
			assert.Equal(t, tt.wantLevel, last["level"])
			assert.EqualValues(t, tt.wantCode, last["status"])
			assert.NotEmpty(t, last["request_id"])
			assert.Equal(t, "/x", last["path"])
		})
	}
}
