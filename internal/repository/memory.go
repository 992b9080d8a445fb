package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-quest-session/internal/model"
)

// MemoryUserRepository is the in-process stand-in for UserRepository used
// when no DATABASE_URL is configured.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]model.User)}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	return r.findBy(func(u model.User) bool { return strings.EqualFold(u.Email, strings.TrimSpace(email)) })
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (model.User, error) {
	return r.findBy(func(u model.User) bool { return strings.EqualFold(u.Username, strings.TrimSpace(username)) })
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Username, u.Username) {
			return model.ErrUserAlreadyExists
		}
	}
	r.users[u.ID] = u
	return nil
}

func (r *MemoryUserRepository) MarkVerified(_ context.Context, userID string) error {
	return r.update(userID, func(u *model.User) { u.IsVerified = true })
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	return r.update(userID, func(u *model.User) { u.PasswordHash = passwordHash })
}

func (r *MemoryUserRepository) findBy(match func(model.User) bool) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (r *MemoryUserRepository) update(userID string, apply func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	apply(&u)
	u.UpdatedAt = time.Now().UTC()
	r.users[userID] = u
	return nil
}

type memoryToken struct {
	userID    string
	expiresAt time.Time
}

type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[string]memoryToken)}
}

func (r *MemoryTokenRepository) Store(_ context.Context, tokenID string, userID string, expiresAt time.Time) error {
	r.mu.Lock()
	r.tokens[tokenID] = memoryToken{userID: userID, expiresAt: expiresAt}
	r.mu.Unlock()
	return nil
}

func (r *MemoryTokenRepository) Validate(_ context.Context, tokenID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenID]
	if !ok || !t.expiresAt.After(time.Now()) {
		return "", model.ErrTokenNotFound
	}
	return t.userID, nil
}

func (r *MemoryTokenRepository) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.tokens {
		if t.userID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *MemoryTokenRepository) CleanExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	now := time.Now()
	for id, t := range r.tokens {
		if !t.expiresAt.After(now) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}

type MemoryCodeRepository struct {
	mu    sync.Mutex
	codes map[string]model.OneTimeCode
}

func NewMemoryCodeRepository() *MemoryCodeRepository {
	return &MemoryCodeRepository{codes: make(map[string]model.OneTimeCode)}
}

func (r *MemoryCodeRepository) Upsert(_ context.Context, c model.OneTimeCode) error {
	r.mu.Lock()
	r.codes[codeKey(c.UserID, c.Purpose)] = c
	r.mu.Unlock()
	return nil
}

func (r *MemoryCodeRepository) Find(_ context.Context, userID string, purpose string) (model.OneTimeCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[codeKey(userID, purpose)]
	if !ok {
		return model.OneTimeCode{}, model.ErrCodeNotFound
	}
	return c, nil
}

func (r *MemoryCodeRepository) Delete(_ context.Context, userID string, purpose string) error {
	r.mu.Lock()
	delete(r.codes, codeKey(userID, purpose))
	r.mu.Unlock()
	return nil
}

func codeKey(userID string, purpose string) string {
	return userID + "/" + purpose
}
