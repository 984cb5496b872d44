// Package auth handles OAuth2 token management and persistence.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrTokenNotSet indicates no OAuth token is available.
var ErrTokenNotSet = errors.New("no token defined")

// Store persists a token between runs.
type Store interface {
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
}

// Token manages OAuth2 tokens with thread-safe operations.
type Token struct {
	mu         sync.RWMutex
	cfg        *oauth2.Config
	token      *oauth2.Token
	store      Store
	stateStore map[string]time.Time
	ready      chan struct{}
	readyOnce  sync.Once
}

// NewToken creates a Token manager, loading a previously saved token from store.
func NewToken(cfg *oauth2.Config, store Store) (*Token, error) {
	t := &Token{
		cfg:        cfg,
		store:      store,
		stateStore: make(map[string]time.Time),
		ready:      make(chan struct{}),
	}
	if store == nil {
		return t, nil
	}

	token, err := store.Load()
	if errors.Is(err, ErrTokenNotSet) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.Load failed: %w", err)
	}
	t.setToken(token)

	return t, nil
}

// RedirectURL generates the OAuth2 authorization URL with a secure random state.
func (t *Token) RedirectURL() (string, error) {
	state, err := t.generateState()
	if err != nil {
		return "", fmt.Errorf("generateState failed: %w", err)
	}

	return t.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (t *Token) generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read failed: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.stateStore[state] = now.Add(5 * time.Minute)

	for s, exp := range t.stateStore {
		if exp.Before(now) {
			delete(t.stateStore, s)
		}
	}

	return state, nil
}

func (t *Token) validateState(state string) bool {
	if state == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, exists := t.stateStore[state]
	if !exists {
		return false
	}

	delete(t.stateStore, state)

	return !time.Now().After(expiry)
}

// AuthorizeCode exchanges an authorization code for an access token after validating state.
func (t *Token) AuthorizeCode(ctx context.Context, code string, state string) error {
	if !t.validateState(state) {
		return errors.New("invalid or expired state parameter")
	}

	tok, err := t.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("cfg.Exchange failed: %w", err)
	}

	t.setToken(tok)

	return nil
}

// OAuthToken returns the current OAuth2 token.
func (t *Token) OAuthToken() (*oauth2.Token, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.token == nil {
		return nil, ErrTokenNotSet
	}

	return t.token, nil
}

// Ready is closed once a token is available.
func (t *Token) Ready() <-chan struct{} {
	return t.ready
}

// TokenSource returns a source that refreshes the token when it expires and keeps the
// refreshed token for Persist.
func (t *Token) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &trackingSource{t: t, ctx: ctx}
}

// Persist saves the token to the store.
func (t *Token) Persist() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.store == nil || t.token == nil {
		return nil
	}

	if err := t.store.Save(t.token); err != nil {
		return fmt.Errorf("store.Save failed: %w", err)
	}

	return nil
}

func (t *Token) setToken(tok *oauth2.Token) {
	t.mu.Lock()
	t.token = tok
	t.mu.Unlock()

	t.readyOnce.Do(func() { close(t.ready) })
}

type trackingSource struct {
	t   *Token
	ctx context.Context

	mu  sync.Mutex
	src oauth2.TokenSource
}

func (s *trackingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == nil {
		tok, err := s.t.OAuthToken()
		if err != nil {
			return nil, err
		}
		s.src = s.t.cfg.TokenSource(s.ctx, tok)
	}

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	if current, _ := s.t.OAuthToken(); current == nil || current.AccessToken != tok.AccessToken {
		s.t.setToken(tok)
	}

	return tok, nil
}
