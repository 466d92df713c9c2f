package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/auth"
)

func newGate(t *testing.T, key string) *auth.Gate {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour, nil)
	require.NoError(t, err)
	g, err := auth.NewGate(key, mgr, nil)
	require.NoError(t, err)
	return g
}

func TestGate_ExchangeAndAuthenticate(t *testing.T) {
	g := newGate(t, "s3cret")
	require.True(t, g.Enabled())

	token, exp, err := g.Exchange("s3cret")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := g.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	claims, err = g.Authenticate("bearer " + token)
	require.NoError(t, err)
	assert.NotNil(t, claims)
}

func TestGate_RejectsWrongKey(t *testing.T) {
	g := newGate(t, "s3cret")

	_, _, err := g.Exchange("guess")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = g.Exchange("")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestGate_RejectsBadHeaders(t *testing.T) {
	g := newGate(t, "s3cret")
	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc", "Bearer not.a.jwt", "s3cret"} {
		_, err := g.Authenticate(h)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials, h)
	}
}

func TestGate_OpenWhenNoKey(t *testing.T) {
	g := newGate(t, "")
	assert.False(t, g.Enabled())

	claims, err := g.Authenticate("")
	assert.NoError(t, err)
	assert.Nil(t, claims)

	_, _, err = g.Exchange("anything")
	assert.ErrorIs(t, err, auth.ErrDisabled)
}
