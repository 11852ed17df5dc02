package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newCommonEcho(cfg CommonConfig) *echo.Echo {
	e := echo.New()
	e.Use(Common(cfg)...)
	e.POST("/echo", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/panic", func(c echo.Context) error { panic("boom") })
	return e
}

func TestCommon(t *testing.T) {
	t.Parallel()

	t.Run("issues uuid request id", func(t *testing.T) {
		t.Parallel()
		e := newCommonEcho(CommonConfig{})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		_, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID))
		assert.NoError(t, err)
		assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	})

	t.Run("keeps client request id", func(t *testing.T) {
		t.Parallel()
		e := newCommonEcho(CommonConfig{})
		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		req.Header.Set(echo.HeaderXRequestID, "rid-1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "rid-1", rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers panics", func(t *testing.T) {
		t.Parallel()
		e := newCommonEcho(CommonConfig{})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("hsts over tls", func(t *testing.T) {
		t.Parallel()
		e := newCommonEcho(CommonConfig{HSTS: true})
		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		req.Header.Set(echo.HeaderXForwardedProto, "https")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Contains(t, rec.Header().Get(echo.HeaderStrictTransportSecurity), "max-age=31536000")
	})

	t.Run("body limit", func(t *testing.T) {
		t.Parallel()
		e := newCommonEcho(CommonConfig{BodyLimit: "1K"})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 2048))))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
