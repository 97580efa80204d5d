package secret

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWipeZeroesBuffer(t *testing.T) {
	s := New("access-token")
	buf := s.buf

	s.Wipe()

	require.True(t, s.Empty())
	require.Equal(t, "", s.Reveal())
	for _, b := range buf {
		require.Zero(t, b)
	}

	s.Wipe()
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("refresh")
	c := s.Clone()

	s.Wipe()

	require.Equal(t, "refresh", c.Reveal())
	require.False(t, c.Empty())
}

func TestNilSecret(t *testing.T) {
	var s *Secret

	require.True(t, s.Empty())
	require.Equal(t, "", s.Reveal())
	require.Nil(t, s.Clone())
	s.Wipe()
}

func TestFormattingRedacts(t *testing.T) {
	s := New("verifier")

	require.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "verifier")
}
