package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportJSONWithBearer(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/login", r.URL.Path)
		assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "x@y.com", body["email"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"tok2"}`))
	}))
	t.Cleanup(server.Close)

	tr := NewHTTPTransport(server.URL+"/", nil, time.Second)
	resp, err := tr.Request(context.Background(), http.MethodPost, "/users/login", map[string]string{"email": "x@y.com"}, "tok1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, resp.Decode(&out))
	require.Equal(t, "tok2", out.AccessToken)
}

func TestHTTPTransportOmitsAuthWithoutToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	tr := NewHTTPTransport(server.URL, nil, time.Second)
	resp, err := tr.Request(context.Background(), http.MethodGet, "/health", nil, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.Status)
}

func TestHTTPTransportMultipart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "hero", r.FormValue("username"))

		file, header, err := r.FormFile("avatar")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, "me.png", header.Filename)
		assert.Equal(t, "png-bytes", string(content))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"email":"hero@quests.test"}`))
	}))
	t.Cleanup(server.Close)

	tr := NewHTTPTransport(server.URL, nil, time.Second)
	resp, err := tr.Request(context.Background(), http.MethodPost, "/users/register", &Multipart{
		Fields: map[string]string{"username": "hero"},
		Files:  []File{{Field: "avatar", Name: "me.png", Content: []byte("png-bytes")}},
	}, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
}

func TestHTTPTransportStatusError(t *testing.T) {
	t.Parallel()

	t.Run("top level message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Invalid credentials"}`))
		}))
		t.Cleanup(server.Close)

		_, err := NewHTTPTransport(server.URL, nil, time.Second).Request(context.Background(), http.MethodPost, "/users/login", nil, "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, http.StatusUnauthorized, se.Status)
		require.Equal(t, "UNAUTHORIZED", se.Code)
		require.Equal(t, "Invalid credentials", se.Message)
		require.True(t, IsStatus(err, http.StatusUnauthorized))
	})

	t.Run("enveloped message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMITED","message":"Too many requests"}}`))
		}))
		t.Cleanup(server.Close)

		_, err := NewHTTPTransport(server.URL, nil, time.Second).Request(context.Background(), http.MethodGet, "/users/current-user", nil, "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, "Too many requests", se.Message)
	})

	t.Run("no message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
		}))
		t.Cleanup(server.Close)

		_, err := NewHTTPTransport(server.URL, nil, time.Second).Request(context.Background(), http.MethodGet, "/users/current-user", nil, "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Empty(t, se.Message)
	})
}

func TestHTTPTransportNetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPTransport(url, nil, time.Second).Request(context.Background(), http.MethodPost, "/users/logout", nil, "secret-token")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNetwork))
	require.NotContains(t, err.Error(), "secret-token")
}
