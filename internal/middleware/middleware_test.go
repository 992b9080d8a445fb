package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-quest-session/internal/metrics"
	"go-quest-session/internal/model"
)

type stubValidator struct {
	claims *model.AuthClaims
}

func (s stubValidator) ValidateToken(token string, expectedType string) (*model.AuthClaims, error) {
	if token != "good" || expectedType != "access" {
		return nil, errors.New("invalid")
	}
	return s.claims, nil
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	t.Parallel()

	mw := NewAuthMiddleware(stubValidator{claims: &model.AuthClaims{UserID: "u1"}})
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "u1", claims.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]struct {
		header string
		status int
	}{
		"valid":          {header: "Bearer good", status: http.StatusNoContent},
		"lowercase":      {header: "bearer good", status: http.StatusNoContent},
		"missing":        {header: "", status: http.StatusUnauthorized},
		"wrong scheme":   {header: "Basic good", status: http.StatusUnauthorized},
		"rejected token": {header: "Bearer bad", status: http.StatusUnauthorized},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/current-user", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				require.Contains(t, rec.Body.String(), `"message"`)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"code":"INTERNAL_ERROR","message":"Unexpected server error"}`, rec.Body.String())
}

func TestLoggingSetsRequestID(t *testing.T) {
	t.Parallel()

	handler := Logging(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get(requestIDHeader))
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()

	hm := metrics.NewHTTP()
	r := chi.NewRouter()
	r.Use(Metrics(hm))
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/users/1", "/users/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, float64(2), testutil.ToFloat64(hm.RequestsTotal.WithLabelValues(http.MethodGet, "/users/{id}", "418")))
}
