package router

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-quest-session/internal/config"
	"go-quest-session/internal/handler"
	"go-quest-session/internal/mailer"
	"go-quest-session/internal/metrics"
	"go-quest-session/internal/middleware"
	"go-quest-session/internal/repository"
	"go-quest-session/internal/service"
	"go-quest-session/internal/session"
	"go-quest-session/internal/tokenstore"
	"go-quest-session/internal/transport"
)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type testServer struct {
	url  string
	mail *mailer.Recorder
}

func newTestServer(t *testing.T, accessTTL time.Duration) *testServer {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		CORSOrigins:      []string{"*"},
		AuthRateLimitRPM: 1000,
		AvatarRoot:       t.TempDir(),
		MaxAvatarSize:    1 << 20,
	}

	mail := &mailer.Recorder{}
	svc := service.NewUserService(
		repository.NewMemoryUserRepository(),
		repository.NewMemoryTokenRepository(),
		repository.NewMemoryCodeRepository(),
		mail,
		service.NewAvatarStore(cfg.AvatarRoot, cfg.MaxAvatarSize),
		service.UserServiceConfig{
			JWTSecret:           "router-test-secret",
			AccessTTL:           accessTTL,
			RefreshTTL:          time.Hour,
			VerificationCodeTTL: time.Minute,
			ResetCodeTTL:        time.Minute,
			BcryptCost:          bcrypt.MinCost,
		},
	)

	registry := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTP()
	httpMetrics.RegisterCollectors(registry)

	srv := httptest.NewServer(New(cfg, Deps{
		Auth:     middleware.NewAuthMiddleware(svc),
		Users:    handler.NewUserHandler(svc, cfg.MaxAvatarSize),
		Metrics:  httpMetrics,
		Gatherer: registry,
	}))
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, mail: mail}
}

func (s *testServer) manager(opts ...session.Option) (*session.Manager, *tokenstore.MemoryStore) {
	store := tokenstore.NewMemoryStore()
	return session.New(transport.NewHTTPTransport(s.url, nil, 5*time.Second), store, opts...), store
}

func (s *testServer) code(t *testing.T, email string) string {
	t.Helper()

	msg, ok := s.mail.Last(email)
	require.True(t, ok, "no mail sent to %s", email)
	code := codePattern.FindString(msg.Body)
	require.NotEmpty(t, code)
	return code
}

func (s *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()

	resp, err := http.Get(s.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func registration(username string, email string) session.Registration {
	return session.Registration{
		Username:        username,
		Email:           email,
		Password:        "pw123456",
		ConfirmPassword: "pw123456",
	}
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := range 4 {
		for y := range 4 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSessionLifecycleAgainstServer(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)
	m, store := srv.manager()
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, session.StatusAnonymous, m.Snapshot().Status)

	result, err := m.Register(ctx, registration("hero", "hero@quests.test"))
	require.NoError(t, err)
	assert.Equal(t, "hero@quests.test", result.Email)
	assert.False(t, m.IsAuthenticated())

	_, err = m.Login(ctx, session.Credentials{Email: "hero@quests.test", Password: "pw123456"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindVerificationPending), "got %v", err)

	profile, err := m.VerifyEmail(ctx, "hero@quests.test", srv.code(t, "hero@quests.test"))
	require.NoError(t, err)
	assert.Equal(t, "hero", profile.Username)
	assert.True(t, profile.IsVerified)
	assert.True(t, m.IsAuthenticated())

	pair, err := tokenstore.ReadPair(ctx, store)
	require.NoError(t, err)
	assert.True(t, pair.Complete())

	before := m.Snapshot()
	require.NoError(t, m.Refresh(ctx))
	after := m.Snapshot()
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken)

	current, err := m.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, current.ID)

	_, err = m.ChangePassword(ctx, session.ChangePassword{
		CurrentPassword:    "pw123456",
		NewPassword:        "newpass99",
		ConfirmNewPassword: "newpass99",
	})
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx))
	assert.False(t, m.IsAuthenticated())
	assert.False(t, store.Has(tokenstore.KeyAccessToken))
	assert.False(t, store.Has(tokenstore.KeyRefreshToken))

	_, err = m.Login(ctx, session.Credentials{Username: "hero", Password: "pw123456"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindAuthentication), "got %v", err)

	_, err = m.Login(ctx, session.Credentials{Username: "hero", Password: "newpass99"})
	require.NoError(t, err)
	assert.True(t, m.IsAuthenticated())
}

func TestSessionRestoredFromStorage(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)
	ctx := context.Background()

	first, store := srv.manager()
	_, err := first.Register(ctx, registration("mage", "mage@quests.test"))
	require.NoError(t, err)
	_, err = first.VerifyEmail(ctx, "mage@quests.test", srv.code(t, "mage@quests.test"))
	require.NoError(t, err)

	second := session.New(transport.NewHTTPTransport(srv.url, nil, 5*time.Second), store)
	require.NoError(t, second.Initialize(ctx))
	require.True(t, second.IsAuthenticated())
	assert.Nil(t, second.Snapshot().User)

	profile, err := second.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mage", profile.Username)
}

func TestProactiveRefreshAgainstServer(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	m, _ := srv.manager(session.WithRefreshSkew(2 * time.Minute))
	ctx := context.Background()

	_, err := m.Register(ctx, registration("rogue", "rogue@quests.test"))
	require.NoError(t, err)
	_, err = m.VerifyEmail(ctx, "rogue@quests.test", srv.code(t, "rogue@quests.test"))
	require.NoError(t, err)

	before := m.Snapshot().AccessToken
	_, err = m.CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, m.Snapshot().AccessToken)
	assert.True(t, m.IsAuthenticated())
}

func TestPasswordResetAgainstServer(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)
	m, _ := srv.manager()
	ctx := context.Background()

	_, err := m.Register(ctx, registration("bard", "bard@quests.test"))
	require.NoError(t, err)
	_, err = m.VerifyEmail(ctx, "bard@quests.test", srv.code(t, "bard@quests.test"))
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx))

	msg, err := m.RequestPasswordReset(ctx, "bard@quests.test")
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	_, err = m.ResetPassword(ctx, session.PasswordReset{
		Email:           "bard@quests.test",
		ResetCode:       "abcdef",
		NewPassword:     "lute12345",
		ConfirmPassword: "lute12345",
	})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindValidation), "got %v", err)

	_, err = m.ResetPassword(ctx, session.PasswordReset{
		Email:           "bard@quests.test",
		ResetCode:       srv.code(t, "bard@quests.test"),
		NewPassword:     "lute12345",
		ConfirmPassword: "lute12345",
	})
	require.NoError(t, err)
	assert.False(t, m.IsAuthenticated())

	_, err = m.Login(ctx, session.Credentials{Email: "bard@quests.test", Password: "lute12345"})
	require.NoError(t, err)
}

func TestRegisterConflictAndAvatar(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)
	m, _ := srv.manager()
	ctx := context.Background()

	reg := registration("cleric", "cleric@quests.test")
	reg.Avatar = tinyPNG(t)
	reg.AvatarName = "face.png"
	_, err := m.Register(ctx, reg)
	require.NoError(t, err)

	_, err = m.Register(ctx, registration("cleric", "other@quests.test"))
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindConflict), "got %v", err)

	profile, err := m.VerifyEmail(ctx, "cleric@quests.test", srv.code(t, "cleric@quests.test"))
	require.NoError(t, err)
	require.NotEmpty(t, profile.Avatar)

	status, _ := srv.get(t, "/"+strings.TrimPrefix(profile.Avatar, "/"))
	assert.Equal(t, http.StatusOK, status)
}

func TestRequireAuthRejectsAnonymousRequests(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)

	status, body := srv.get(t, "/users/current-user")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "message")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, 15*time.Minute)

	status, body := srv.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = srv.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `questsession_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
