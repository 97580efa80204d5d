package entity

import (
	"testing"
	"time"

	"github.com/jgivc/recfetch/internal/secret"
	"github.com/stretchr/testify/require"
)

func TestAuthTokenIsValid(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name  string
		token *AuthToken
		want  bool
	}{
		{name: "nil", token: nil, want: false},
		{name: "valid", token: &AuthToken{AccessToken: secret.New("a"), ExpiresAt: now.Add(time.Minute)}, want: true},
		{name: "empty access token", token: &AuthToken{AccessToken: secret.New(""), ExpiresAt: now.Add(time.Minute)}, want: false},
		{name: "missing access token", token: &AuthToken{ExpiresAt: now.Add(time.Minute)}, want: false},
		{name: "expires now", token: &AuthToken{AccessToken: secret.New("a"), ExpiresAt: now}, want: false},
		{name: "expired", token: &AuthToken{AccessToken: secret.New("a"), ExpiresAt: now.Add(-time.Second)}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.token.IsValid(now))
		})
	}
}

func TestAuthTokenWipe(t *testing.T) {
	now := time.Now()
	tok := &AuthToken{AccessToken: secret.New("a"), RefreshToken: secret.New("r"), ExpiresAt: now.Add(time.Hour)}
	require.True(t, tok.CanRefresh())

	tok.Wipe()

	require.False(t, tok.IsValid(now))
	require.False(t, tok.CanRefresh())
}

func TestAuthTokenClone(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	tok := &AuthToken{
		AccessToken:  secret.New("a"),
		TokenType:    "bearer",
		ExpiresAt:    now.Add(time.Hour),
		RefreshToken: secret.New("r"),
		Scopes:       []string{"recording:read"},
	}

	c := tok.Clone()
	tok.Wipe()
	tok.Scopes[0] = "changed"

	require.True(t, c.IsValid(now))
	require.Equal(t, "a", c.AccessToken.Reveal())
	require.Equal(t, "r", c.RefreshToken.Reveal())
	require.Equal(t, "bearer", c.TokenType)
	require.Equal(t, []string{"recording:read"}, c.Scopes)

	var nilToken *AuthToken
	require.Nil(t, nilToken.Clone())
	require.Nil(t, (&AuthToken{AccessToken: secret.New("a")}).Clone().RefreshToken)
}

func TestFlowExpiry(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &AuthFlowState{CreatedAt: created}

	require.False(t, f.Expired(created.Add(FlowLifetime)))
	require.True(t, f.Expired(created.Add(11*time.Minute)))
}
