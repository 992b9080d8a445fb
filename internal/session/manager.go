// Package session owns the client-side authentication lifecycle: the token
// pair, the derived authenticated state, the optional user profile and the
// last operation error.
//
// A Manager is safe for concurrent use. Every operation returns its failure as
// an *Error and also records it as the snapshot's Err until ClearError is
// called or a later login or verification succeeds. Refreshes are coalesced:
// however many goroutines discover an expired access token at once, one
// refresh request is sent and all of them observe its outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"go-quest-session/internal/event"
	"go-quest-session/internal/metrics"
	"go-quest-session/internal/model"
	"go-quest-session/internal/tokenstore"
	"go-quest-session/internal/transport"
)

const (
	defaultRefreshTimeout = 10 * time.Second
	defaultLogoutTimeout  = 5 * time.Second
	defaultRefreshSkew    = 30 * time.Second
)

type Manager struct {
	transport transport.Transport
	store     tokenstore.Store
	bus       event.Bus
	log       *slog.Logger
	metrics   *metrics.Session
	validate  *inputValidator
	now       func() time.Time

	refreshTimeout time.Duration
	logoutTimeout  time.Duration
	refreshSkew    time.Duration

	refreshGroup singleflight.Group
	// afterJoin runs once a caller has joined a refresh flight. Tests only.
	afterJoin func()

	// writeMu orders token-store writes with the memory update that follows
	// them, so storage and memory never disagree about the current pair.
	writeMu sync.Mutex

	mu             sync.RWMutex
	accessToken    string
	refreshToken   string
	user           *model.Profile
	err            error
	pending        int
	authenticating int
	refreshing     bool
}

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithMetrics(s *metrics.Session) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithBus publishes session events on bus, so subscribers can be attached
// before the manager exists.
func WithBus(bus event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

func WithLogoutTimeout(d time.Duration) Option {
	return func(m *Manager) { m.logoutTimeout = d }
}

// WithRefreshSkew sets how long before its exp claim an access token is
// refreshed proactively. Zero disables proactive refresh.
func WithRefreshSkew(d time.Duration) Option {
	return func(m *Manager) { m.refreshSkew = d }
}

// New returns an anonymous Manager. Call Initialize to restore a stored session.
func New(t transport.Transport, store tokenstore.Store, opts ...Option) *Manager {
	m := &Manager{
		transport:      t,
		store:          store,
		bus:            event.NewBus(),
		log:            slog.Default(),
		metrics:        metrics.NewSession(),
		validate:       newInputValidator(),
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
		logoutTimeout:  defaultLogoutTimeout,
		refreshSkew:    defaultRefreshSkew,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.log = m.log.With("component", "session")
	return m
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticatedLocked()
}

// Subscribe streams state-change events until the returned func is called.
// Event payloads are redacted Snapshots.
func (m *Manager) Subscribe() (<-chan event.Event, func()) {
	return m.bus.Subscribe()
}

// ClearError drops the recorded error. Operations do not clear it on entry.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		return
	}
	m.err = nil
	m.publishLocked(event.TypeSessionError)
}

// Initialize hydrates the session from the token store. Both keys must be
// present and non-empty for the session to count as authenticated; anything
// else, including half of a pair, is anonymous. No network call is made.
func (m *Manager) Initialize(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	pair, err := tokenstore.ReadPair(ctx, m.store)
	if err != nil {
		return m.fail(&Error{Kind: KindStorage, Op: opInitialize, Message: "Could not restore session", Err: err})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pair.Complete() {
		if pair.AccessToken != m.accessToken || pair.RefreshToken != m.refreshToken {
			m.user = nil
		}
		m.accessToken = pair.AccessToken
		m.refreshToken = pair.RefreshToken
	} else {
		m.accessToken = ""
		m.refreshToken = ""
		m.user = nil
	}

	m.publishLocked(event.TypeSessionInitialized)
	return nil
}

func (m *Manager) Login(ctx context.Context, creds Credentials) (*model.Profile, error) {
	if err := m.validate.credentials(creds); err != nil {
		return nil, m.fail(validationError(opLogin, err.Error()))
	}

	done := m.begin(true)
	defer done()

	req := model.LoginRequest{
		Email:    strings.TrimSpace(creds.Email),
		Username: strings.TrimSpace(creds.Username),
		Password: creds.Password,
	}

	resp, err := m.transport.Request(ctx, http.MethodPost, "/users/login", req, "")
	if err != nil {
		return nil, m.fail(classify(opLogin, err, "Login failed"))
	}

	return m.establish(ctx, opLogin, resp, "Login failed")
}

// Register creates an unverified account. It never establishes a session.
func (m *Manager) Register(ctx context.Context, reg Registration) (model.RegisterResult, error) {
	if err := m.validate.structure(reg); err != nil {
		return model.RegisterResult{}, m.fail(validationError(opRegister, err.Error()))
	}

	done := m.begin(false)
	defer done()

	form := &transport.Multipart{Fields: map[string]string{
		"username":        strings.TrimSpace(reg.Username),
		"email":           strings.TrimSpace(reg.Email),
		"password":        reg.Password,
		"confirmPassword": reg.ConfirmPassword,
	}}
	if len(reg.Avatar) > 0 {
		name := reg.AvatarName
		if name == "" {
			name = "avatar"
		}
		form.Files = append(form.Files, transport.File{Field: "avatar", Name: name, Content: reg.Avatar})
	}

	resp, err := m.transport.Request(ctx, http.MethodPost, "/users/register", form, "")
	if err != nil {
		return model.RegisterResult{}, m.fail(classify(opRegister, err, "Registration failed"))
	}

	var result model.RegisterResult
	if err := resp.Decode(&result); err != nil {
		return model.RegisterResult{}, m.fail(&Error{Kind: KindServer, Op: opRegister, Message: "Registration failed", Err: err})
	}
	if result.Email == "" {
		result.Email = strings.TrimSpace(reg.Email)
	}

	m.log.Info("registration accepted; verification pending")
	return result, nil
}

// VerifyEmail confirms a registration. On success it has the same effects as
// Login. Failures leave the session anonymous and may be retried freely.
func (m *Manager) VerifyEmail(ctx context.Context, email string, code string) (*model.Profile, error) {
	if err := m.validate.emailAndCode(email, code); err != nil {
		return nil, m.fail(validationError(opVerifyEmail, err.Error()))
	}

	done := m.begin(true)
	defer done()

	req := model.VerifyEmailRequest{Email: strings.TrimSpace(email), VerificationCode: strings.TrimSpace(code)}
	resp, err := m.transport.Request(ctx, http.MethodPost, "/users/verify-email", req, "")
	if err != nil {
		return nil, m.fail(classify(opVerifyEmail, err, "Verification failed"))
	}

	return m.establish(ctx, opVerifyEmail, resp, "Verification failed")
}

func (m *Manager) ResendVerificationCode(ctx context.Context, email string) (string, error) {
	return m.sendEmailRequest(ctx, opResendCode, "/users/resend-verification-code", email, "Could not resend verification code")
}

func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return m.sendEmailRequest(ctx, opRequestReset, "/users/request-password-reset", email, "Could not request password reset")
}

func (m *Manager) ResetPassword(ctx context.Context, reset PasswordReset) (string, error) {
	if err := m.validate.structure(reset); err != nil {
		return "", m.fail(validationError(opResetPassword, err.Error()))
	}

	done := m.begin(false)
	defer done()

	req := model.ResetPasswordRequest{
		Email:           strings.TrimSpace(reset.Email),
		ResetCode:       strings.TrimSpace(reset.ResetCode),
		NewPassword:     reset.NewPassword,
		ConfirmPassword: reset.ConfirmPassword,
	}
	resp, err := m.transport.Request(ctx, http.MethodPost, "/users/reset-password", req, "")
	if err != nil {
		return "", m.fail(classify(opResetPassword, err, "Password reset failed"))
	}

	return decodeMessage(resp), nil
}

// CurrentUser fetches the profile and merges it into the session. Any failure
// other than the caller's own cancellation tears the session down.
func (m *Manager) CurrentUser(ctx context.Context) (*model.Profile, error) {
	if !m.hasAccessToken() {
		return nil, m.fail(notAuthenticated(opCurrentUser))
	}

	done := m.begin(false)
	defer done()

	resp, err := m.Do(ctx, http.MethodGet, "/users/current-user", nil)
	if err != nil {
		if isCanceled(err) {
			return nil, m.fail(classify(opCurrentUser, err, "Could not load user"))
		}
		m.teardown(context.WithoutCancel(ctx), "current_user_failed")
		e := classify(opCurrentUser, err, "Could not load user")
		return nil, m.fail(&Error{Kind: KindFatalSession, Op: opCurrentUser, Message: e.Message, Status: e.Status, Err: err})
	}

	var profile model.Profile
	if err := resp.Decode(&profile); err != nil || profile.ID == "" {
		m.teardown(context.WithoutCancel(ctx), "current_user_failed")
		return nil, m.fail(&Error{Kind: KindFatalSession, Op: opCurrentUser, Message: "Could not load user", Err: err})
	}

	return m.setUser(profile), nil
}

// Logout notifies the server on a best-effort basis and then always clears
// the session locally, whether or not the notification succeeded.
func (m *Manager) Logout(ctx context.Context) error {
	done := m.begin(false)
	defer done()

	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()

	if tokenstore.Present(token) {
		notifyCtx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		if _, err := m.transport.Request(notifyCtx, http.MethodPost, "/users/logout", nil, token); err != nil {
			m.log.Debug("logout notification failed", "error", err)
		}
		cancel()
	}

	if err := m.teardown(context.WithoutCancel(ctx), "logout"); err != nil {
		return m.fail(&Error{Kind: KindStorage, Op: opLogout, Message: "Could not clear stored session", Err: err})
	}

	m.log.Info("logged out")
	return nil
}

// ChangePassword validates locally before any request. Tokens are never
// touched; a server rejection is recorded without changing authentication.
// On success the profile is never nil: without a usable echo from the
// server it is the cached user, or an empty profile if none is known.
func (m *Manager) ChangePassword(ctx context.Context, change ChangePassword) (*model.Profile, error) {
	if !m.IsAuthenticated() {
		return nil, m.fail(notAuthenticated(opChangePassword))
	}
	if err := m.validate.structure(change); err != nil {
		return nil, m.fail(validationError(opChangePassword, err.Error()))
	}

	done := m.begin(false)
	defer done()

	req := model.ChangePasswordRequest{
		CurrentPassword:    change.CurrentPassword,
		NewPassword:        change.NewPassword,
		ConfirmNewPassword: change.ConfirmNewPassword,
	}
	resp, err := m.Do(ctx, http.MethodPost, "/users/change-password", req)
	if err != nil {
		return nil, m.fail(classify(opChangePassword, err, "Password change failed"))
	}

	var profile model.Profile
	if err := resp.Decode(&profile); err != nil || profile.ID == "" {
		// The change went through; only the echo is unusable.
		m.log.Warn("change password response carried no profile")
		if cached := m.Snapshot().User; cached != nil {
			return cached, nil
		}
		return &model.Profile{}, nil
	}

	return m.setUser(profile), nil
}

func (m *Manager) sendEmailRequest(ctx context.Context, op string, path string, email string, fallback string) (string, error) {
	if err := m.validate.email(email); err != nil {
		return "", m.fail(validationError(op, err.Error()))
	}

	done := m.begin(false)
	defer done()

	resp, err := m.transport.Request(ctx, http.MethodPost, path, model.EmailRequest{Email: strings.TrimSpace(email)}, "")
	if err != nil {
		return "", m.fail(classify(op, err, fallback))
	}

	return decodeMessage(resp), nil
}

// establish persists a freshly issued token pair and then publishes it in
// memory in one step, so no reader ever sees only one of the two tokens.
func (m *Manager) establish(ctx context.Context, op string, resp *transport.Response, fallback string) (*model.Profile, error) {
	var result model.AuthResult
	if err := resp.Decode(&result); err != nil {
		return nil, m.fail(&Error{Kind: KindServer, Op: op, Message: fallback, Err: err})
	}

	pair := tokenstore.Pair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}
	if !pair.Complete() {
		return nil, m.fail(&Error{Kind: KindServer, Op: op, Message: fallback, Err: errors.New("response is missing a token")})
	}

	m.writeMu.Lock()
	if err := tokenstore.WritePair(ctx, m.store, pair); err != nil {
		m.writeMu.Unlock()
		return nil, m.fail(&Error{Kind: KindStorage, Op: op, Message: "Could not save session", Err: err})
	}

	user := result.User

	m.mu.Lock()
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.user = &user
	m.err = nil
	m.publishLocked(event.TypeSessionAuthenticated)
	m.mu.Unlock()
	m.writeMu.Unlock()

	m.log.Info("session established", "op", op, "user_id", user.ID)
	out := user
	return &out, nil
}

func (m *Manager) setUser(profile model.Profile) *model.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A teardown may have landed while the request was in flight.
	if !m.authenticatedLocked() {
		out := profile
		return &out
	}

	merged := profile
	m.user = &merged
	m.publishLocked(event.TypeSessionUserUpdated)

	out := profile
	return &out
}

// teardown clears tokens and user from memory and storage. It is idempotent.
func (m *Manager) teardown(ctx context.Context, reason string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.teardownLocked(ctx, reason)
}

// teardownLocked is teardown for callers already holding writeMu.
func (m *Manager) teardownLocked(ctx context.Context, reason string) error {
	storeErr := tokenstore.ClearPair(ctx, m.store)
	if storeErr != nil {
		m.log.Error("failed to clear stored tokens", "reason", reason, "error", storeErr)
	}

	m.mu.Lock()
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.publishLocked(event.TypeSessionCleared)
	m.mu.Unlock()

	m.metrics.TeardownTotal.WithLabelValues(reason).Inc()
	m.log.Info("session cleared", "reason", reason)
	return storeErr
}

// fail records e as the pending error and returns it.
func (m *Manager) fail(e *Error) error {
	m.mu.Lock()
	m.err = e
	m.publishLocked(event.TypeSessionError)
	m.mu.Unlock()

	m.log.Warn("session operation failed", "op", e.Op, "kind", e.Kind.String(), "status", e.Status, "message", e.Message)
	return e
}

// begin marks an operation in flight and returns the func that ends it.
func (m *Manager) begin(authenticating bool) func() {
	m.mu.Lock()
	m.pending++
	if authenticating {
		m.authenticating++
	}
	m.publishLocked(event.TypeSessionLoading)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.pending--
			if authenticating {
				m.authenticating--
			}
			m.publishLocked(event.TypeSessionLoading)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) hasAccessToken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tokenstore.Present(m.accessToken)
}

func (m *Manager) authenticatedLocked() bool {
	return tokenstore.Pair{AccessToken: m.accessToken, RefreshToken: m.refreshToken}.Complete()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		IsAuthenticated: m.authenticatedLocked(),
		Loading:         m.pending > 0,
		Err:             m.err,
		AccessToken:     m.accessToken,
		RefreshToken:    m.refreshToken,
	}

	if m.user != nil {
		u := *m.user
		s.User = &u
	}

	switch {
	case m.refreshing:
		s.Status = StatusRefreshing
	case s.IsAuthenticated:
		s.Status = StatusAuthenticated
	case m.authenticating > 0:
		s.Status = StatusAuthenticating
	default:
		s.Status = StatusAnonymous
	}

	return s
}

func (m *Manager) publishLocked(t event.Type) {
	m.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   m.snapshotLocked().Redacted(),
		Timestamp: m.now().UTC().Format(time.RFC3339Nano),
	})
}

func decodeMessage(resp *transport.Response) string {
	var msg model.MessageResponse
	if err := resp.Decode(&msg); err != nil {
		return ""
	}
	return msg.Message
}

func (m *Manager) String() string {
	s := m.Snapshot()
	return fmt.Sprintf("session(%s)", s.Status)
}
