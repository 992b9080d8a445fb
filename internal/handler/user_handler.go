package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go-quest-session/internal/middleware"
	"go-quest-session/internal/model"
	"go-quest-session/pkg/apierror"
)

type userService interface {
	Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResult, error)
	Login(ctx context.Context, req model.LoginRequest) (model.AuthResult, error)
	VerifyEmail(ctx context.Context, req model.VerifyEmailRequest) (model.AuthResult, error)
	ResendVerificationCode(ctx context.Context, email string) (model.MessageResponse, error)
	RequestPasswordReset(ctx context.Context, email string) (model.MessageResponse, error)
	ResetPassword(ctx context.Context, req model.ResetPasswordRequest) (model.MessageResponse, error)
	Refresh(ctx context.Context, refreshToken string) (model.AccessTokenResult, error)
	Logout(ctx context.Context, userID string) error
	CurrentUser(ctx context.Context, userID string) (model.Profile, error)
	ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) (model.Profile, error)
}

type UserHandler struct {
	service       userService
	maxAvatarSize int64
}

func NewUserHandler(service userService, maxAvatarSize int64) *UserHandler {
	return &UserHandler{service: service, maxAvatarSize: maxAvatarSize}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, apierror.BadRequest("Invalid registration form", ""))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := model.RegisterRequest{
		Username:        r.FormValue("username"),
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirmPassword"),
	}

	file, header, err := r.FormFile("avatar")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxAvatarSize+1))
		if err != nil {
			writeError(w, apierror.BadRequest("Could not read avatar", ""))
			return
		}
		req.Avatar = data
		req.AvatarName = header.Filename
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		writeError(w, apierror.BadRequest("Invalid avatar upload", ""))
		return
	}

	result, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	email := strings.TrimSpace(payload.Email)
	username := strings.TrimSpace(payload.Username)
	if (email == "") == (username == "") || payload.Password == "" {
		writeError(w, apierror.BadRequest("Provide a password and either an email or a username", ""))
		return
	}

	result, err := h.service.Login(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *UserHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload model.VerifyEmailRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.VerificationCode) == "" {
		writeError(w, apierror.BadRequest("Email and verification code are required", ""))
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *UserHandler) ResendVerificationCode(w http.ResponseWriter, r *http.Request) {
	h.emailAction(w, r, h.service.ResendVerificationCode)
}

func (h *UserHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	h.emailAction(w, r, h.service.RequestPasswordReset)
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetPasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.ResetCode) == "" {
		writeError(w, apierror.BadRequest("Email and reset code are required", ""))
		return
	}

	result, err := h.service.ResetPassword(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshTokenRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	payload.RefreshToken = strings.TrimSpace(payload.RefreshToken)
	if payload.RefreshToken == "" {
		writeError(w, apierror.BadRequest("Refresh token is required", "refreshToken"))
		return
	}

	result, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Logged out"})
}

func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	profile, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	var payload model.ChangePasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	profile, err := h.service.ChangePassword(r.Context(), claims.UserID, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *UserHandler) emailAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (model.MessageResponse, error)) {
	var payload model.EmailRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	email := strings.TrimSpace(payload.Email)
	if email == "" {
		writeError(w, apierror.BadRequest("Email is required", "email"))
		return
	}

	result, err := action(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apierror.BadRequest("Invalid JSON body", ""))
		return false
	}
	return true
}
