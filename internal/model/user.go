package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	xpPerLevel = 100
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	XP           int       `json:"xp"`
	IsVerified   bool      `json:"isVerified"`
	AvatarPath   string    `json:"avatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Level is derived from XP; it is never stored.
func (u User) Level() int {
	if u.XP < 0 {
		return 1
	}
	return u.XP/xpPerLevel + 1
}

func (u User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		XP:         u.XP,
		Level:      u.Level(),
		IsVerified: u.IsVerified,
		Avatar:     u.AvatarPath,
	}
}

// Profile is the user snapshot exchanged with clients.
type Profile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	XP         int    `json:"xp"`
	Level      int    `json:"level"`
	IsVerified bool   `json:"isVerified"`
	Avatar     string `json:"avatar,omitempty"`
}

type AuthClaims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
	TokenID  string `json:"jti"`
}

// AuthResult is returned by login and email verification.
type AuthResult struct {
	User         Profile `json:"user"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
}

type AccessTokenResult struct {
	AccessToken string `json:"accessToken"`
}

const (
	CodePurposeVerifyEmail   = "verify_email"
	CodePurposeResetPassword = "reset_password"
)

// OneTimeCode is a hashed short code mailed to a user.
type OneTimeCode struct {
	UserID    string
	Purpose   string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
