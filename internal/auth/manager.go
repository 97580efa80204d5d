// Package auth drives the OAuth2 authorization-code flow with PKCE and keeps the
// access token fresh.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/secret"
)

const (
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"

	// RefreshSkew is how long before expiry AccessToken refreshes proactively.
	RefreshSkew          = 60 * time.Second
	defaultTokenLifetime = time.Hour
	maxTokenBodySize     = 1 << 20
)

// Doer sends unauthenticated requests. *client.Executor satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Config struct {
	ClientID     string
	ClientSecret *secret.Secret
	RedirectURI  string
	Scopes       []string
	OAuthBaseURL string
}

type Manager struct {
	cfg   Config
	doer  Doer
	store *Store

	refreshMu sync.Mutex

	hookMu   sync.Mutex
	onChange func(*entity.AuthToken)

	now func() time.Time
	log *slog.Logger
}

func NewManager(cfg Config, doer Doer, log *slog.Logger) *Manager {
	cfg.OAuthBaseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")

	return &Manager{
		cfg:   cfg,
		doer:  doer,
		store: NewStore(),
		now:   time.Now,
		log:   log.With(slog.String("item", "TokenManager")),
	}
}

// SetNow overrides the time function (for testing).
func (m *Manager) SetNow(fn func() time.Time) {
	m.now = fn
}

// OnChange registers fn to be called with a copy of every newly stored token, and
// with nil after Clear. The copy belongs to fn.
func (m *Manager) OnChange(fn func(*entity.AuthToken)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	m.onChange = fn
}

func (m *Manager) notify(token *entity.AuthToken) {
	m.hookMu.Lock()
	fn := m.onChange
	m.hookMu.Unlock()

	if fn != nil {
		fn(token)
	}
}

// BeginAuthorization registers a new flow and returns the URL the user must visit.
func (m *Manager) BeginAuthorization() (string, string, error) {
	if m.cfg.ClientID == "" || m.cfg.ClientSecret.Empty() {
		return "", "", common.Configuration("client id and client secret are required")
	}

	if n := m.store.PurgeExpired(m.now()); n > 0 {
		m.log.Debug("Purged expired flows", slog.Int("count", n))
	}

	verifier, err := newVerifier()
	if err != nil {
		return "", "", err
	}

	csrf, err := newCSRFToken()
	if err != nil {
		return "", "", err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.cfg.ClientID)
	q.Set("redirect_uri", m.cfg.RedirectURI)
	q.Set("state", csrf)
	q.Set("code_challenge", challengeS256(verifier))
	q.Set("code_challenge_method", ChallengeMethodS256)
	if len(m.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(m.cfg.Scopes, " "))
	}

	flow := &entity.AuthFlowState{
		FlowID:           uuid.NewString(),
		CSRFToken:        csrf,
		PKCEVerifier:     secret.New(verifier),
		CreatedAt:        m.now(),
		AuthorizationURL: m.cfg.OAuthBaseURL + authorizePath + "?" + q.Encode(),
	}
	m.store.PutFlow(flow)

	m.log.Info("Authorization flow started", slog.String("flow_id", flow.FlowID))

	return flow.AuthorizationURL, flow.FlowID, nil
}

// FlowByState finds the pending flow whose CSRF token equals state.
func (m *Manager) FlowByState(state string) (string, bool) {
	return m.store.FlowByCSRF(state)
}

func (m *Manager) CompleteAuthorizationByState(ctx context.Context, code, state string) (*entity.AuthToken, error) {
	flowID, ok := m.FlowByState(state)
	if !ok {
		return nil, common.Authentication("unknown authorization state")
	}

	return m.CompleteAuthorization(ctx, code, flowID)
}

// AbandonAuthorizationByState drops the pending flow whose CSRF token equals state,
// as after the provider reports that the user denied access. It reports whether a
// flow was dropped.
func (m *Manager) AbandonAuthorizationByState(state string) bool {
	flowID, ok := m.FlowByState(state)
	if !ok {
		return false
	}

	flow, ok := m.store.TakeFlow(flowID)
	if !ok {
		return false
	}
	flow.PKCEVerifier.Wipe()

	m.log.Info("Authorization flow abandoned", slog.String("flow_id", flowID))

	return true
}

// CompleteAuthorization exchanges code for a token. The flow is consumed whether or
// not the exchange succeeds.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, flowID string) (*entity.AuthToken, error) {
	flow, ok := m.store.TakeFlow(flowID)
	if !ok {
		return nil, common.Authentication("unknown or already used flow %q", flowID)
	}
	defer flow.PKCEVerifier.Wipe()

	if flow.Expired(m.now()) {
		return nil, common.Authentication("flow %q expired", flowID)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.cfg.RedirectURI)
	form.Set("code_verifier", flow.PKCEVerifier.Reveal())

	token, err := m.exchange(ctx, form)
	if err != nil {
		return nil, err
	}

	issued := token.Clone()
	m.replace(token)
	m.log.Info("Authorization completed", slog.String("flow_id", flowID))

	return issued, nil
}

// Refresh trades the current refresh token for a new access token. Tokens returned
// earlier are superseded, not modified.
func (m *Manager) Refresh(ctx context.Context) (*entity.AuthToken, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	return m.refreshLocked(ctx)
}

// refreshLocked returns a copy of the new token. refreshMu must be held.
func (m *Manager) refreshLocked(ctx context.Context) (*entity.AuthToken, error) {
	current := m.store.CloneToken()
	defer current.Wipe()

	if !current.CanRefresh() {
		return nil, common.Authentication("no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken.Reveal())

	token, err := m.exchange(ctx, form)
	if err != nil {
		return nil, err
	}

	if token.RefreshToken.Empty() {
		token.RefreshToken = current.RefreshToken.Clone()
	}

	issued := token.Clone()
	m.replace(token)
	m.log.Debug("Token refreshed", slog.Time("expires_at", issued.ExpiresAt))

	return issued, nil
}

// AccessToken returns a usable access token, refreshing it when it is expired or
// about to expire.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	token := m.store.CloneToken()
	defer token.Wipe()

	now := m.now()

	if token.IsValid(now.Add(RefreshSkew)) {
		return token.AccessToken.Reveal(), nil
	}

	if token.CanRefresh() {
		refreshed, err := m.refreshLocked(ctx)
		if err != nil {
			return "", fmt.Errorf("cannot refresh token: %w", err)
		}
		defer refreshed.Wipe()

		return refreshed.AccessToken.Reveal(), nil
	}

	if token.IsValid(now) {
		return token.AccessToken.Reveal(), nil
	}

	return "", fmt.Errorf("%w: no valid token, login required", common.ErrInvalidTokenError)
}

// CurrentToken returns a copy of the current token, or nil when there is none.
func (m *Manager) CurrentToken() *entity.AuthToken {
	return m.store.CloneToken()
}

// Load installs a copy of a token obtained elsewhere, such as from persistent
// storage. The caller keeps ownership of token.
func (m *Manager) Load(token *entity.AuthToken) {
	m.store.ReplaceToken(token.Clone())
}

// Clear wipes the token and every pending flow.
func (m *Manager) Clear() {
	m.store.Reset()
	m.notify(nil)
	m.log.Info("Credentials cleared")
}

// replace hands token to the store, which owns it from then on.
func (m *Manager) replace(token *entity.AuthToken) {
	c := token.Clone()
	m.store.ReplaceToken(token)
	m.notify(c)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (m *Manager) exchange(ctx context.Context, form url.Values) (*entity.AuthToken, error) {
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.OAuthBaseURL+tokenPath, strings.NewReader(body))
	if err != nil {
		return nil, common.Configuration("cannot create token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret.Reveal())

	resp, err := m.doer.Do(ctx, req)
	if err != nil {
		if isTransportError(err) {
			return nil, fmt.Errorf("cannot exchange token: %w", err)
		}

		return nil, common.Authentication("token exchange rejected: %v", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenBodySize)).Decode(&tr); err != nil {
		return nil, common.Authentication("cannot decode token response: %v", err)
	}

	if tr.AccessToken == "" {
		return nil, common.Authentication("token response has no access token")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}

	token := &entity.AuthToken{
		AccessToken: secret.New(tr.AccessToken),
		TokenType:   tr.TokenType,
		ExpiresAt:   m.now().Add(lifetime),
	}
	if tr.RefreshToken != "" {
		token.RefreshToken = secret.New(tr.RefreshToken)
	}
	if tr.Scope != "" {
		token.Scopes = strings.Fields(tr.Scope)
	}

	return token, nil
}

func isTransportError(err error) bool {
	return errors.Is(err, common.ErrNetworkError) ||
		errors.Is(err, common.ErrTimeoutError) ||
		errors.Is(err, context.Canceled)
}
