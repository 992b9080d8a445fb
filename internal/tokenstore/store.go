// Package tokenstore persists the session's access and refresh tokens.
//
// A Store holds opaque strings under fixed keys. Writes of the two tokens are
// not required to be atomic; readers must treat a pair with a missing half as
// no session at all. Backends that can write both keys in one transaction
// implement PairStore and are used that way by WritePair and ClearPair.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Store is a durable string key-value store. Get returns "" and a nil error
// for a missing key; Clear on a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Clear(ctx context.Context, key string) error
}

// PairStore writes and clears both token keys atomically.
type PairStore interface {
	Store
	SetPair(ctx context.Context, accessToken string, refreshToken string) error
	ClearPair(ctx context.Context) error
}

type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Present reports whether a token value counts as set. Blank values are
// treated as absent everywhere.
func Present(token string) bool {
	return strings.TrimSpace(token) != ""
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool {
	return Present(p.AccessToken) && Present(p.RefreshToken)
}

func ReadPair(ctx context.Context, s Store) (Pair, error) {
	access, err := s.Get(ctx, KeyAccessToken)
	if err != nil {
		return Pair{}, fmt.Errorf("read %s: %w", KeyAccessToken, err)
	}

	refresh, err := s.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Pair{}, fmt.Errorf("read %s: %w", KeyRefreshToken, err)
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func WritePair(ctx context.Context, s Store, p Pair) error {
	if !p.Complete() {
		return errors.New("token pair is incomplete")
	}

	if ps, ok := s.(PairStore); ok {
		if err := ps.SetPair(ctx, p.AccessToken, p.RefreshToken); err != nil {
			return fmt.Errorf("write token pair: %w", err)
		}
		return nil
	}

	if err := s.Set(ctx, KeyAccessToken, p.AccessToken); err != nil {
		return fmt.Errorf("write %s: %w", KeyAccessToken, err)
	}

	if err := s.Set(ctx, KeyRefreshToken, p.RefreshToken); err != nil {
		// Leave no half-written pair behind if we can help it.
		_ = s.Clear(ctx, KeyAccessToken)
		return fmt.Errorf("write %s: %w", KeyRefreshToken, err)
	}

	return nil
}

func ClearPair(ctx context.Context, s Store) error {
	if ps, ok := s.(PairStore); ok {
		if err := ps.ClearPair(ctx); err != nil {
			return fmt.Errorf("clear token pair: %w", err)
		}
		return nil
	}

	return errors.Join(
		s.Clear(ctx, KeyAccessToken),
		s.Clear(ctx, KeyRefreshToken),
	)
}
