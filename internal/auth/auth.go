// Package auth holds the authentication collaborator contract and the
// session-scoped identity context built on top of it.
package auth

import (
	"context"
	"errors"

	"huddle/client/internal/store"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("expired token")
)

// Auth is the external authentication collaborator. Implementations deliver
// the current principal and notify watchers on sign-in/out; a nil principal
// in the callback means signed out.
type Auth interface {
	CurrentPrincipal(ctx context.Context) (store.Principal, error)
	OnAuthChange(fn func(*store.Principal)) (cancel func())
}
