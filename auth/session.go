package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// SessionManager is the single source of truth for the signed-in identity,
// whichever login path produced it. It holds the only in-memory copy of the
// current identity and is its sole writer.
type SessionManager struct {
	mu      sync.Mutex
	current *Identity
	subs    map[int]func(*Identity)
	nextSub int

	store    *CredentialStore
	provider *ProviderClient
	logger   *slog.Logger
}

// NewSessionManager constructs the manager.
func NewSessionManager(store *CredentialStore, provider *ProviderClient, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		subs:     make(map[int]func(*Identity)),
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// Current returns a copy of the identity published most recently, or nil.
func (m *SessionManager) Current() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyIdentity(m.current)
}

// Subscribe registers fn for identity changes and returns an unsubscribe
// func. fn observes every mutation, including sign-out (nil), before the
// mutating call returns.
func (m *SessionManager) Subscribe(fn func(*Identity)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Restore rebuilds the identity on process start. It prefers a live stored
// token set (re-fetching the profile from the provider), falls back to a
// persisted local identity, and never propagates failures: a passive start
// must not block on a broken cache.
func (m *SessionManager) Restore(ctx context.Context) *Identity {
	if tokens, ok := m.store.LoadTokens(); ok {
		profile, err := m.provider.ExchangeForProfile(ctx, tokens.AccessToken)
		if err == nil {
			return m.CompleteProviderLogin(profile)
		}
		m.logger.Warn("stored tokens rejected by provider, clearing", "error", err)
		m.store.ClearTokens()
	}

	if id, ok := m.store.LoadIdentity(); ok && id.Provider == ProviderLocal {
		m.setCurrent(&id)
		return m.Current()
	}

	return nil
}

// LoginLocal establishes a local identity without contacting any provider.
// This path performs no credential verification: the email is taken as
// given.
func (m *SessionManager) LoginLocal(email, displayName string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email required")
	}

	id := &Identity{Email: email, Name: strings.TrimSpace(displayName), Provider: ProviderLocal}
	if err := m.store.SaveIdentity(*id); err != nil {
		m.logger.Warn("persist identity", "error", err)
	}
	m.setCurrent(id)
	return m.Current(), nil
}

// CompleteProviderLogin maps a provider profile onto the application
// identity, persists it, and publishes it as current.
func (m *SessionManager) CompleteProviderLogin(profile ProviderProfile) *Identity {
	id := &Identity{
		SubjectID:  profile.SubjectID,
		Name:       profile.Name,
		Email:      profile.Email,
		PictureURL: profile.PictureURL,
		Provider:   ProviderOAuth,
	}
	if err := m.store.SaveIdentity(*id); err != nil {
		m.logger.Warn("persist identity", "error", err)
	}
	m.setCurrent(id)
	return m.Current()
}

// Logout clears the current identity and all durable credentials. For
// provider identities the access token is revoked upstream on a best-effort
// basis; revocation failure never blocks sign-out.
func (m *SessionManager) Logout(ctx context.Context) {
	outgoing := m.Current()

	var accessToken string
	if outgoing != nil && outgoing.Provider == ProviderOAuth {
		if tokens, ok := m.store.LoadTokens(); ok {
			accessToken = tokens.AccessToken
		}
	}

	m.store.ClearAll()
	m.setCurrent(nil)

	if accessToken != "" {
		if err := m.provider.Revoke(ctx, accessToken); err != nil {
			m.logger.Warn("token revocation failed", "error", err)
		}
	}
}

// setCurrent swaps the identity and publishes it to subscribers before
// returning. Subscribers run outside the lock so they may call back into
// the manager.
func (m *SessionManager) setCurrent(id *Identity) {
	m.mu.Lock()
	m.current = id
	subs := make([]func(*Identity), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}
