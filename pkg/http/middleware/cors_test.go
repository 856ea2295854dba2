package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func corsServer(origins ...string) *echo.Echo {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{echo.HeaderContentType},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
		MaxAge:        600,
	}))
	e.GET("/api/export.csv", func(c echo.Context) error { return c.String(http.StatusOK, "Scanner\n") })
	return e
}

func TestCORSPreflight(t *testing.T) {
	e := corsServer("https://dash.example")
	req := httptest.NewRequest(http.MethodOptions, "/api/export.csv", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	h := rec.Header()
	if h.Get(echo.HeaderAccessControlAllowOrigin) != "https://dash.example" ||
		h.Get(echo.HeaderAccessControlAllowMethods) != "GET, POST" ||
		h.Get(echo.HeaderAccessControlMaxAge) != "600" {
		t.Fatalf("preflight headers = %v", h)
	}
}

func TestCORSExposesExportHeaders(t *testing.T) {
	e := corsServer("*")
	req := httptest.NewRequest(http.MethodGet, "/api/export.csv", nil)
	req.Header.Set(echo.HeaderOrigin, "https://any.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlExposeHeaders); got != echo.HeaderContentDisposition {
		t.Fatalf("expose headers = %q", got)
	}
	if rec.Header().Get(echo.HeaderAccessControlAllowMethods) != "" {
		t.Fatalf("allow-methods set on a simple request")
	}
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	e := corsServer("https://dash.example")
	req := httptest.NewRequest(http.MethodGet, "/api/export.csv", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get(echo.HeaderAccessControlAllowOrigin) != "" {
		t.Fatalf("unknown origin allowed")
	}
	if rec.Header().Get(echo.HeaderVary) != echo.HeaderOrigin {
		t.Fatalf("vary = %q", rec.Header().Get(echo.HeaderVary))
	}
}
