package session

import (
	"log/slog"

	"go-quest-session/internal/model"
)

// Status is the externally visible state machine position.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusRefreshing
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "AUTHENTICATING"
	case StatusAuthenticated:
		return "AUTHENTICATED"
	case StatusRefreshing:
		return "REFRESHING"
	default:
		return "ANONYMOUS"
	}
}

// Snapshot is a copy of the session state at one instant.
type Snapshot struct {
	Status          Status
	IsAuthenticated bool
	User            *model.Profile
	Loading         bool
	Err             error
	AccessToken     string
	RefreshToken    string
}

// Redacted returns the snapshot with both token values removed.
func (s Snapshot) Redacted() Snapshot {
	s.AccessToken = ""
	s.RefreshToken = ""
	return s
}

func (s Snapshot) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("status", s.Status.String()),
		slog.Bool("authenticated", s.IsAuthenticated),
		slog.Bool("loading", s.Loading),
	}
	if s.User != nil {
		attrs = append(attrs, slog.String("user_id", s.User.ID))
	}
	if s.Err != nil {
		attrs = append(attrs, slog.String("error", s.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Credentials identify a user by exactly one of Email or Username.
type Credentials struct {
	Email    string `validate:"omitempty,email" label:"Email"`
	Username string `label:"Username"`
	Password string `validate:"required" label:"Password"`
}

type Registration struct {
	Username        string `validate:"required,min=3,max=32" label:"Username"`
	Email           string `validate:"required,email" label:"Email"`
	Password        string `validate:"required,min=8" label:"Password"`
	ConfirmPassword string `validate:"required,eqfield=Password" label:"Password confirmation"`
	Avatar          []byte
	AvatarName      string
}

type ChangePassword struct {
	CurrentPassword    string `validate:"required" label:"Current password"`
	NewPassword        string `validate:"required,min=8,nefield=CurrentPassword" label:"New password"`
	ConfirmNewPassword string `validate:"required,eqfield=NewPassword" label:"Password confirmation"`
}

type PasswordReset struct {
	Email           string `validate:"required,email" label:"Email"`
	ResetCode       string `validate:"required" label:"Reset code"`
	NewPassword     string `validate:"required,min=8" label:"New password"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword" label:"Password confirmation"`
}
