package entity

import (
	"time"

	"github.com/jgivc/recfetch/internal/secret"
)

const FlowLifetime = 10 * time.Minute

// AuthToken is a bearer credential. A refresh produces a new AuthToken instead of
// mutating the current one.
type AuthToken struct {
	AccessToken  *secret.Secret
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken *secret.Secret // nil when the provider issued none
	Scopes       []string
}

func (t *AuthToken) IsValid(now time.Time) bool {
	if t == nil {
		return false
	}

	return !t.AccessToken.Empty() && now.Before(t.ExpiresAt)
}

func (t *AuthToken) CanRefresh() bool {
	return t != nil && !t.RefreshToken.Empty()
}

// Clone returns a copy with its own secret buffers, so wiping one leaves the
// other intact.
func (t *AuthToken) Clone() *AuthToken {
	if t == nil {
		return nil
	}

	c := *t
	c.AccessToken = t.AccessToken.Clone()
	c.RefreshToken = t.RefreshToken.Clone()
	if t.Scopes != nil {
		c.Scopes = append([]string(nil), t.Scopes...)
	}

	return &c
}

func (t *AuthToken) Wipe() {
	if t == nil {
		return
	}

	t.AccessToken.Wipe()
	t.RefreshToken.Wipe()
}

// AuthFlowState is a pending authorization-code flow. Single use.
type AuthFlowState struct {
	FlowID           string
	CSRFToken        string
	PKCEVerifier     *secret.Secret
	CreatedAt        time.Time
	AuthorizationURL string
}

func (f *AuthFlowState) Expired(now time.Time) bool {
	return now.Sub(f.CreatedAt) > FlowLifetime
}
