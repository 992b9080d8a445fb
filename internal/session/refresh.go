package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-quest-session/internal/event"
	"go-quest-session/internal/model"
	"go-quest-session/internal/tokenstore"
	"go-quest-session/internal/transport"
)

const refreshFlightKey = "refresh"

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one request and all receive its outcome. Any failure of the
// exchange itself ends the session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	stale := m.accessToken
	m.mu.RUnlock()

	return m.refreshFrom(ctx, stale)
}

// refreshFrom refreshes unless the access token has already moved on from
// stale, in which case someone else's refresh has done the job.
func (m *Manager) refreshFrom(ctx context.Context, stale string) error {
	leader := false
	ch := m.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		leader = true
		return nil, m.runRefresh(context.WithoutCancel(ctx), stale)
	})

	if m.afterJoin != nil {
		m.afterJoin()
	}

	select {
	case res := <-ch:
		if !leader {
			m.metrics.RefreshWaiters.Inc()
		}
		if res.Err != nil {
			return res.Err
		}
		return nil
	case <-ctx.Done():
		return m.fail(classify(opRefresh, ctx.Err(), "Refresh abandoned"))
	}
}

func (m *Manager) runRefresh(ctx context.Context, stale string) error {
	m.mu.Lock()
	if m.accessToken != stale && m.authenticatedLocked() {
		m.mu.Unlock()
		return nil
	}
	refreshToken := m.refreshToken
	if !tokenstore.Present(refreshToken) {
		m.mu.Unlock()
		return m.fail(notAuthenticated(opRefresh))
	}
	m.refreshing = true
	m.pending++
	m.publishLocked(event.TypeSessionLoading)
	m.mu.Unlock()

	// Registered before the writeMu unlock below, so it runs last and the
	// final event carries the settled status.
	defer func() {
		m.mu.Lock()
		m.pending--
		m.publishLocked(event.TypeSessionLoading)
		m.mu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	resp, err := m.transport.Request(reqCtx, http.MethodPost, "/users/refresh-token", model.RefreshTokenRequest{RefreshToken: refreshToken}, "")
	var result model.AccessTokenResult
	if err == nil {
		if decodeErr := resp.Decode(&result); decodeErr != nil {
			err = decodeErr
		} else if !tokenstore.Present(result.AccessToken) {
			err = errors.New("response is missing the access token")
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// Events published from here on report the outcome, not the refresh.
	m.mu.Lock()
	m.refreshing = false
	m.mu.Unlock()

	// A login or logout landed while the request was out; its pair wins.
	// A deliberate logout is not an error worth recording.
	if m.currentRefreshToken() != refreshToken {
		m.metrics.RefreshTotal.WithLabelValues("discarded").Inc()
		m.log.Debug("refresh result discarded; session changed mid-flight")
		if m.IsAuthenticated() {
			return nil
		}
		return notAuthenticated(opRefresh)
	}

	if err != nil {
		m.metrics.RefreshTotal.WithLabelValues("failure").Inc()
		e := classify(opRefresh, err, "Token refresh failed")
		_ = m.teardownLocked(ctx, "refresh_failed")
		return m.fail(&Error{Kind: KindFatalSession, Op: opRefresh, Message: e.Message, Status: e.Status, Err: err})
	}

	if err := m.store.Set(ctx, tokenstore.KeyAccessToken, result.AccessToken); err != nil {
		// The in-memory session stays usable; the next Initialize may
		// restore the older access token and refresh again.
		m.log.Warn("failed to persist refreshed access token", "error", err)
	}

	m.mu.Lock()
	m.accessToken = result.AccessToken
	m.publishLocked(event.TypeSessionRefreshed)
	m.mu.Unlock()

	m.metrics.RefreshTotal.WithLabelValues("success").Inc()
	m.log.Info("access token refreshed")
	return nil
}

// Do sends an authenticated request. An access token close to expiry is
// refreshed first; a 401 triggers one refresh and one retry. If another
// caller already replaced the token the request failed with, the retry uses
// the new token without refreshing again.
func (m *Manager) Do(ctx context.Context, method string, path string, body any) (*transport.Response, error) {
	token := m.currentAccessToken()
	if !tokenstore.Present(token) {
		return nil, notAuthenticated("request")
	}

	if m.expiresSoon(token) {
		if err := m.refreshFrom(ctx, token); err != nil {
			return nil, err
		}
		if token = m.currentAccessToken(); !tokenstore.Present(token) {
			return nil, notAuthenticated("request")
		}
	}

	resp, err := m.transport.Request(ctx, method, path, body, token)
	if !transport.IsStatus(err, http.StatusUnauthorized) {
		return resp, err
	}

	current := m.currentAccessToken()
	if current == token {
		if err := m.refreshFrom(ctx, token); err != nil {
			return nil, err
		}
		current = m.currentAccessToken()
	}
	if !tokenstore.Present(current) {
		return nil, notAuthenticated("request")
	}

	return m.transport.Request(ctx, method, path, body, current)
}

// expiresSoon reports whether token is a JWT whose exp claim falls within the
// refresh skew. Opaque tokens never expire from the client's point of view.
func (m *Manager) expiresSoon(token string) bool {
	if m.refreshSkew <= 0 {
		return false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return exp.Time.Sub(m.now()) <= m.refreshSkew
}

func (m *Manager) currentAccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

func (m *Manager) currentRefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken
}

// AccessTokenExpiry returns the exp claim of the current access token when
// it is a JWT.
func (m *Manager) AccessTokenExpiry() (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(m.currentAccessToken(), jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
