package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"huddle/client/internal/store"
)

// Claims is the token payload issued by the hosted auth provider.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth implements Auth by consuming HS256 session tokens from the
// hosted provider. It validates and decodes tokens; it does not issue them.
type TokenAuth struct {
	secret []byte

	mu        sync.Mutex
	principal *store.Principal
	watchers  map[int]func(*store.Principal)
	nextID    int
}

func NewTokenAuth(secret []byte) *TokenAuth {
	return &TokenAuth{
		secret:   secret,
		watchers: make(map[int]func(*store.Principal)),
	}
}

// SignIn validates the session token and installs the principal it names.
func (a *TokenAuth) SignIn(tokenString string) (store.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return store.Principal{}, ErrExpiredToken
		}
		return store.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return store.Principal{}, ErrInvalidToken
	}

	principal := store.Principal{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}

	a.mu.Lock()
	a.principal = &principal
	fns := a.watcherList()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(&principal)
	}
	return principal, nil
}

// SignOut clears the principal and notifies watchers with nil.
func (a *TokenAuth) SignOut() {
	a.mu.Lock()
	a.principal = nil
	fns := a.watcherList()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
}

func (a *TokenAuth) CurrentPrincipal(ctx context.Context) (store.Principal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.principal == nil {
		return store.Principal{}, ErrNotAuthenticated
	}
	return *a.principal, nil
}

func (a *TokenAuth) OnAuthChange(fn func(*store.Principal)) (cancel func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}
}

// watcherList snapshots watchers so callbacks run outside the lock.
func (a *TokenAuth) watcherList() []func(*store.Principal) {
	fns := make([]func(*store.Principal), 0, len(a.watchers))
	for _, fn := range a.watchers {
		fns = append(fns, fn)
	}
	return fns
}
