package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/config"
	"github.com/claudiohpo/Relatorio-KM/internal/notify"
)

func newTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := zap.NewNop().Sugar()
	return RegisterRoutes(logger, sqlx.NewDb(db, "postgres"), cfg, notify.NewLogNotifier(logger))
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, config.Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	h := newTestRouter(t, config.Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestIDPreserved(t *testing.T) {
	h := newTestRouter(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-Id", "upstream-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "upstream-42", w.Header().Get("X-Request-Id"))
}

func TestMaintenanceRedirect(t *testing.T) {
	h := newTestRouter(t, config.Config{MaintenanceMode: "on"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/km", nil))

	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/maintenance.html", w.Header().Get("Location"))

	// the maintenance page itself stays reachable
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/maintenance.html", nil))
	assert.NotEqual(t, http.StatusTemporaryRedirect, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/logo.png", nil))
	assert.NotEqual(t, http.StatusTemporaryRedirect, w.Code)
}

func TestMaintenanceOffByDefault(t *testing.T) {
	for _, flag := range []string{"", "off", "no"} {
		h := newTestRouter(t, config.Config{MaintenanceMode: flag})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusOK, w.Code, "flag %q", flag)
	}
}
