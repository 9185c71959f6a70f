// Package session orchestrates login, logout, token adoption and background
// revalidation. It is the single writer of the token/identity pair; every
// other component reads session state through Snapshot.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sitwo-project/clinic-portal/internal/apiclient"
	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/internal/store"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
)

// Status is the session readiness tri-state. Consumers must treat
// StatusLoading as "do not decide yet".
type Status string

const (
	StatusLoading       Status = "loading"
	StatusAuthenticated Status = "authenticated"
	StatusAnonymous     Status = "anonymous"
)

// Snapshot is an immutable view of the session. The whole value is replaced
// on every state change, never mutated field by field.
type Snapshot struct {
	Status   Status
	Token    string
	Identity *model.Identity
}

// Authenticated reports whether both token and identity are present.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Token != "" && s.Identity != nil
}

const revalidateTimeout = 10 * time.Second

type loginCall struct {
	done chan struct{}
	resp *model.LoginResponse
	err  error
}

// Manager owns the session state machine.
type Manager struct {
	api    *apiclient.Client
	store  store.Store
	logger *logger.Logger

	mu      sync.RWMutex
	current Snapshot

	loginMu  sync.Mutex
	inflight map[string]*loginCall

	revalidating sync.WaitGroup
}

func NewManager(api *apiclient.Client, st store.Store, log *logger.Logger) *Manager {
	return &Manager{
		api:      api,
		store:    st,
		logger:   log.WithComponent("session"),
		current:  Snapshot{Status: StatusLoading},
		inflight: make(map[string]*loginCall),
	}
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) replace(snap Snapshot) {
	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()
}

// Bootstrap restores a persisted session. An absent pair resolves to
// anonymous immediately. A present pair is adopted optimistically so
// dependent consumers are not blocked, then revalidated in the background;
// a rejected token fails closed, clearing both memory and the store. The
// outcome is observed via Snapshot, not a return value.
func (m *Manager) Bootstrap(ctx context.Context) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoCredentials) {
			m.logger.Error(err, "failed to load persisted session")
		}
		m.replace(Snapshot{Status: StatusAnonymous})
		return
	}

	m.api.SetToken(creds.Token)
	m.replace(Snapshot{Status: StatusAuthenticated, Token: creds.Token, Identity: creds.Identity})
	m.logger.Debug("adopted persisted session", "codigo", creds.Identity.Codigo)

	m.revalidating.Add(1)
	go func() {
		defer m.revalidating.Done()
		rctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()
		m.revalidate(rctx, creds.Token)
	}()
}

// WaitForRevalidation blocks until any background revalidation started by
// Bootstrap has finished. Intended for tests and orderly shutdown.
func (m *Manager) WaitForRevalidation() {
	m.revalidating.Wait()
}

// revalidate queries the identity endpoint with the adopted token. Failures
// here were not user-initiated, so they resolve silently to logout; a
// network failure keeps the optimistic session since nothing proved the
// token invalid.
func (m *Manager) revalidate(ctx context.Context, token string) {
	var resp model.UserResponse
	err := m.api.Get(ctx, "/auth/user/", nil, &resp)
	if err == nil {
		identity := model.MergeIdentity(resp.User, resp.Usuario)
		if identity != nil {
			m.replace(Snapshot{Status: StatusAuthenticated, Token: token, Identity: identity})
			if err := m.store.Save(ctx, &model.Credentials{Token: token, Identity: identity}); err != nil {
				m.logger.Error(err, "failed to persist refreshed identity")
			}
		}
		return
	}

	if apperrors.IsNetwork(err) {
		m.logger.Warn("revalidation skipped, backend unreachable")
		return
	}

	m.logger.Info("persisted token rejected, signing out")
	m.Logout(ctx)
}

// Login exchanges credentials for a token. Concurrent calls with an
// identical payload coalesce into a single in-flight request; each distinct
// credential pair is sent at most once while outstanding. Session state is
// untouched; callers follow up with AdoptToken.
func (m *Manager) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	key := email + "\x00" + password

	m.loginMu.Lock()
	if call, ok := m.inflight[key]; ok {
		m.loginMu.Unlock()
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, apperrors.Network(ctx.Err())
		}
	}
	call := &loginCall{done: make(chan struct{})}
	m.inflight[key] = call
	m.loginMu.Unlock()

	call.resp, call.err = m.doLogin(ctx, email, password)
	close(call.done)

	m.loginMu.Lock()
	delete(m.inflight, key)
	m.loginMu.Unlock()

	return call.resp, call.err
}

func (m *Manager) doLogin(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	if err := m.api.SeedCSRF(ctx); err != nil {
		return nil, err
	}

	var resp model.LoginResponse
	req := model.LoginRequest{Email: email, Password: password}
	if err := m.api.Post(ctx, "/auth/login/", &req, &resp); err != nil {
		m.logger.Debug("login rejected", "email", email)
		return nil, err
	}
	return &resp, nil
}

// AdoptToken persists the token and makes the session authenticated. When
// the caller already holds the identity (fresh login response), the round
// trip to the identity endpoint is skipped.
func (m *Manager) AdoptToken(ctx context.Context, token string, preload *model.UserResponse) error {
	m.replace(Snapshot{Status: StatusLoading})
	m.api.SetToken(token)

	if preload != nil {
		if identity := model.MergeIdentity(preload.User, preload.Usuario); identity != nil {
			if err := m.store.Save(ctx, &model.Credentials{Token: token, Identity: identity}); err != nil {
				m.logger.Error(err, "failed to persist session")
			}
			m.replace(Snapshot{Status: StatusAuthenticated, Token: token, Identity: identity})
			return nil
		}
	}

	var resp model.UserResponse
	if err := m.api.Get(ctx, "/auth/user/", nil, &resp); err != nil {
		m.Logout(ctx)
		return err
	}
	identity := model.MergeIdentity(resp.User, resp.Usuario)
	if identity == nil {
		m.Logout(ctx)
		return apperrors.Authentication("identity endpoint returned incomplete profile", nil)
	}

	if err := m.store.Save(ctx, &model.Credentials{Token: token, Identity: identity}); err != nil {
		m.logger.Error(err, "failed to persist session")
	}
	m.replace(Snapshot{Status: StatusAuthenticated, Token: token, Identity: identity})
	return nil
}

// RefreshIdentity re-fetches the identity for the current token. A rejection
// invalidates the whole session.
func (m *Manager) RefreshIdentity(ctx context.Context) error {
	snap := m.Snapshot()
	if !snap.Authenticated() {
		return apperrors.Authentication("no active session", nil)
	}

	var resp model.UserResponse
	if err := m.api.Get(ctx, "/auth/user/", nil, &resp); err != nil {
		if !apperrors.IsNetwork(err) {
			m.Logout(ctx)
		}
		return err
	}

	identity := model.MergeIdentity(resp.User, resp.Usuario)
	if identity == nil {
		m.Logout(ctx)
		return apperrors.Authentication("identity endpoint returned incomplete profile", nil)
	}

	if err := m.store.Save(ctx, &model.Credentials{Token: snap.Token, Identity: identity}); err != nil {
		m.logger.Error(err, "failed to persist refreshed identity")
	}
	m.replace(Snapshot{Status: StatusAuthenticated, Token: snap.Token, Identity: identity})
	return nil
}

// UpdateNotificationSetting flips the notification opt-in preference on the
// backend and mirrors it into the persisted identity.
func (m *Manager) UpdateNotificationSetting(ctx context.Context, enabled bool) error {
	snap := m.Snapshot()
	if !snap.Authenticated() {
		return apperrors.Authentication("no active session", nil)
	}

	payload := model.SettingsUpdate{RecibirNotificaciones: enabled}
	if err := m.api.Patch(ctx, "/auth/user/settings/", &payload, nil); err != nil {
		return err
	}

	identity := *snap.Identity
	identity.RecibirNotificaciones = enabled
	if err := m.store.Save(ctx, &model.Credentials{Token: snap.Token, Identity: &identity}); err != nil {
		m.logger.Error(err, "failed to persist updated preference")
	}
	m.replace(Snapshot{Status: StatusAuthenticated, Token: snap.Token, Identity: &identity})
	return nil
}

// Logout clears the persisted pair, the in-memory session and the
// Authorization header. Always resolves to anonymous.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error(err, "failed to clear persisted session")
	}
	m.api.ClearToken()
	m.replace(Snapshot{Status: StatusAnonymous})
}
