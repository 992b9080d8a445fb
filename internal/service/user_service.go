package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-quest-session/internal/mailer"
	"go-quest-session/internal/model"
	"go-quest-session/pkg/apierror"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	minPasswordLength = 8
	codeDigits        = 6
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}

type TokenRepository interface {
	Store(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error
	Validate(ctx context.Context, tokenID string) (string, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	CleanExpired(ctx context.Context) (int64, error)
}

type CodeRepository interface {
	Upsert(ctx context.Context, c model.OneTimeCode) error
	Find(ctx context.Context, userID string, purpose string) (model.OneTimeCode, error)
	Delete(ctx context.Context, userID string, purpose string) error
}

type UserServiceConfig struct {
	JWTSecret           string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	VerificationCodeTTL time.Duration
	ResetCodeTTL        time.Duration
	BcryptCost          int
}

type UserService struct {
	users   UserRepository
	tokens  TokenRepository
	codes   CodeRepository
	mail    mailer.Sender
	avatars *AvatarStore

	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	verifyTTL  time.Duration
	resetTTL   time.Duration
	cost       int
	now        func() time.Time
}

func NewUserService(users UserRepository, tokens TokenRepository, codes CodeRepository, mail mailer.Sender, avatars *AvatarStore, cfg UserServiceConfig) *UserService {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = 12
	}

	return &UserService{
		users:      users,
		tokens:     tokens,
		codes:      codes,
		mail:       mail,
		avatars:    avatars,
		jwtSecret:  []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		verifyTTL:  cfg.VerificationCodeTTL,
		resetTTL:   cfg.ResetCodeTTL,
		cost:       cost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResult, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	switch {
	case len(username) < 3 || len(username) > 32:
		return model.RegisterResult{}, apierror.BadRequest("Username must be between 3 and 32 characters", "")
	case !validEmail(email):
		return model.RegisterResult{}, apierror.BadRequest("Email must be a valid email address", "")
	}
	if err := checkNewPassword(req.Password, req.ConfirmPassword); err != nil {
		return model.RegisterResult{}, err
	}

	if s.exists(ctx, email, username) {
		return model.RegisterResult{}, apierror.Conflict("User already exists", "")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return model.RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if len(req.Avatar) > 0 && s.avatars != nil {
		path, err := s.avatars.Save(user.ID, req.Avatar)
		if err != nil {
			return model.RegisterResult{}, err
		}
		user.AvatarPath = path
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.RegisterResult{}, apierror.Conflict("User already exists", "")
		}
		return model.RegisterResult{}, err
	}

	if err := s.sendCode(ctx, user, model.CodePurposeVerifyEmail); err != nil {
		return model.RegisterResult{}, err
	}

	slog.Info("user registered", "user_id", user.ID)
	return model.RegisterResult{
		Email:   user.Email,
		Message: "Registration successful. Check your email for the verification code.",
	}, nil
}

func (s *UserService) Login(ctx context.Context, req model.LoginRequest) (model.AuthResult, error) {
	var (
		user model.User
		err  error
	)
	if email := strings.TrimSpace(req.Email); email != "" {
		user, err = s.users.FindByEmail(ctx, email)
	} else {
		user, err = s.users.FindByUsername(ctx, req.Username)
	}

	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthResult{}, apierror.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return model.AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return model.AuthResult{}, apierror.Unauthorized("Invalid credentials")
	}

	if !user.IsVerified {
		return model.AuthResult{}, apierror.Forbidden("EMAIL_NOT_VERIFIED", "Please verify your email before logging in")
	}

	return s.issueTokenPair(ctx, user)
}

func (s *UserService) VerifyEmail(ctx context.Context, req model.VerifyEmailRequest) (model.AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthResult{}, apierror.BadRequest("Invalid verification code", "")
	}
	if err != nil {
		return model.AuthResult{}, err
	}

	if user.IsVerified {
		return model.AuthResult{}, apierror.BadRequest("Email is already verified", "")
	}

	if err := s.checkCode(ctx, user.ID, model.CodePurposeVerifyEmail, req.VerificationCode); err != nil {
		return model.AuthResult{}, codeError(err, "Invalid verification code", "Verification code has expired")
	}

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return model.AuthResult{}, err
	}
	if err := s.codes.Delete(ctx, user.ID, model.CodePurposeVerifyEmail); err != nil {
		slog.Warn("failed to delete used verification code", "user_id", user.ID, "error", err)
	}
	user.IsVerified = true

	slog.Info("email verified", "user_id", user.ID)
	return s.issueTokenPair(ctx, user)
}

// ResendVerificationCode answers the same way whether or not the address
// belongs to an unverified account.
func (s *UserService) ResendVerificationCode(ctx context.Context, email string) (model.MessageResponse, error) {
	resp := model.MessageResponse{Message: "If the account exists and is not yet verified, a new code has been sent."}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return resp, nil
	}
	if err != nil {
		return model.MessageResponse{}, err
	}
	if user.IsVerified {
		return resp, nil
	}

	if err := s.sendCode(ctx, user, model.CodePurposeVerifyEmail); err != nil {
		return model.MessageResponse{}, err
	}
	return resp, nil
}

func (s *UserService) RequestPasswordReset(ctx context.Context, email string) (model.MessageResponse, error) {
	resp := model.MessageResponse{Message: "If the account exists, a password reset code has been sent."}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return resp, nil
	}
	if err != nil {
		return model.MessageResponse{}, err
	}

	if err := s.sendCode(ctx, user, model.CodePurposeResetPassword); err != nil {
		return model.MessageResponse{}, err
	}
	return resp, nil
}

// ResetPassword replaces the password and revokes every refresh token of
// the account.
func (s *UserService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) (model.MessageResponse, error) {
	if err := checkNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		return model.MessageResponse{}, err
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.MessageResponse{}, apierror.BadRequest("Invalid reset code", "")
	}
	if err != nil {
		return model.MessageResponse{}, err
	}

	if err := s.checkCode(ctx, user.ID, model.CodePurposeResetPassword, req.ResetCode); err != nil {
		return model.MessageResponse{}, codeError(err, "Invalid reset code", "Reset code has expired")
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		return model.MessageResponse{}, err
	}
	if err := s.codes.Delete(ctx, user.ID, model.CodePurposeResetPassword); err != nil {
		slog.Warn("failed to delete used reset code", "user_id", user.ID, "error", err)
	}
	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		return model.MessageResponse{}, err
	}

	slog.Info("password reset", "user_id", user.ID)
	return model.MessageResponse{Message: "Password has been reset. You can now log in."}, nil
}

// Refresh issues a new access token. The refresh token itself is not
// rotated; it stays valid until it expires or the user logs out.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (model.AccessTokenResult, error) {
	claims, err := s.ValidateToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return model.AccessTokenResult{}, err
	}

	ownerID, err := s.tokens.Validate(ctx, claims.TokenID)
	if errors.Is(err, model.ErrTokenNotFound) || (err == nil && ownerID != claims.UserID) {
		return model.AccessTokenResult{}, apierror.Unauthorized("Invalid refresh token")
	}
	if err != nil {
		return model.AccessTokenResult{}, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AccessTokenResult{}, apierror.Unauthorized("Invalid refresh token")
	}
	if err != nil {
		return model.AccessTokenResult{}, err
	}

	access, err := s.signToken(user, tokenTypeAccess, uuid.NewString(), s.accessTTL)
	if err != nil {
		return model.AccessTokenResult{}, err
	}
	return model.AccessTokenResult{AccessToken: access}, nil
}

func (s *UserService) Logout(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	slog.Info("user logged out", "user_id", userID)
	return nil
}

func (s *UserService) CurrentUser(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Profile{}, apierror.New("NOT_FOUND", "User not found", "", http.StatusNotFound)
	}
	if err != nil {
		return model.Profile{}, err
	}
	return user.Profile(), nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) (model.Profile, error) {
	if err := checkNewPassword(req.NewPassword, req.ConfirmNewPassword); err != nil {
		return model.Profile{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Profile{}, apierror.Unauthorized("User not found")
	}
	if err != nil {
		return model.Profile{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return model.Profile{}, apierror.BadRequest("Current password is incorrect", "")
	}
	if req.NewPassword == req.CurrentPassword {
		return model.Profile{}, apierror.BadRequest("New password must be different from the current password", "")
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		return model.Profile{}, err
	}

	slog.Info("password changed", "user_id", user.ID)
	return user.Profile(), nil
}

// ValidateToken verifies signature, expiry and token type.
func (s *UserService) ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.Unauthorized("Invalid token signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierror.Unauthorized("Invalid or expired token")
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.Unauthorized("Invalid token claims")
	}

	typ, _ := claimsMap["typ"].(string)
	if expectedType != "" && typ != expectedType {
		return nil, apierror.Unauthorized("Invalid token type")
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Username, _ = claimsMap["username"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" || claims.TokenID == "" {
		return nil, apierror.Unauthorized("Invalid token subject")
	}

	return claims, nil
}

func (s *UserService) CleanExpiredTokens(ctx context.Context) (int64, error) {
	return s.tokens.CleanExpired(ctx)
}

func (s *UserService) issueTokenPair(ctx context.Context, user model.User) (model.AuthResult, error) {
	access, err := s.signToken(user, tokenTypeAccess, uuid.NewString(), s.accessTTL)
	if err != nil {
		return model.AuthResult{}, err
	}

	refreshID := uuid.NewString()
	refresh, err := s.signToken(user, tokenTypeRefresh, refreshID, s.refreshTTL)
	if err != nil {
		return model.AuthResult{}, err
	}

	if err := s.tokens.Store(ctx, refreshID, user.ID, s.now().Add(s.refreshTTL)); err != nil {
		return model.AuthResult{}, err
	}

	return model.AuthResult{
		User:         user.Profile(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *UserService) signToken(user model.User, typ string, jti string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"typ":      typ,
		"jti":      jti,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

func (s *UserService) setPassword(ctx context.Context, userID string, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

// sendCode replaces any live code for the purpose and mails the new one.
func (s *UserService) sendCode(ctx context.Context, user model.User, purpose string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	ttl := s.verifyTTL
	subject := "Verify your email"
	body := "Your verification code is %s. It expires in %s."
	if purpose == model.CodePurposeResetPassword {
		ttl = s.resetTTL
		subject = "Reset your password"
		body = "Your password reset code is %s. It expires in %s. If you did not ask for it, ignore this email."
	}

	now := s.now()
	if err := s.codes.Upsert(ctx, model.OneTimeCode{
		UserID:    user.ID,
		Purpose:   purpose,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := s.mail.Send(ctx, mailer.Email{To: user.Email, Subject: subject, Body: fmt.Sprintf(body, code, ttl)}); err != nil {
		return fmt.Errorf("deliver %s code: %w", purpose, err)
	}
	return nil
}

func (s *UserService) checkCode(ctx context.Context, userID string, purpose string, code string) error {
	stored, err := s.codes.Find(ctx, userID, purpose)
	if err != nil {
		return err
	}
	if !stored.ExpiresAt.After(s.now()) {
		return model.ErrCodeExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.CodeHash), []byte(strings.TrimSpace(code))) != nil {
		return model.ErrCodeInvalid
	}
	return nil
}

func (s *UserService) exists(ctx context.Context, email string, username string) bool {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return true
	}
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return true
	}
	return false
}

func codeError(err error, invalid string, expired string) error {
	switch {
	case errors.Is(err, model.ErrCodeExpired):
		return apierror.BadRequest(expired, "")
	case errors.Is(err, model.ErrCodeInvalid), errors.Is(err, model.ErrCodeNotFound):
		return apierror.BadRequest(invalid, "")
	default:
		return err
	}
}

func checkNewPassword(password string, confirm string) error {
	if len(password) < minPasswordLength {
		return apierror.BadRequest(fmt.Sprintf("Password must be at least %d characters", minPasswordLength), "")
	}
	if password != confirm {
		return apierror.BadRequest("Passwords do not match", "")
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
