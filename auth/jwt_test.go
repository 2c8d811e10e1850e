package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greybox/hackcore/validationcache"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "alice", []string{"player"}, time.Hour)
	require.NoError(t, err)

	v := NewVerifier(secret, validationcache.New())
	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, []string{"player"}, id.Roles)
}

func TestVerifier_RejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "alice", nil, -time.Minute)
	require.NoError(t, err)

	v := NewVerifier(secret, nil)
	_, err = v.Verify(token)
	require.Error(t, err)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("secret-a"), "alice", nil, time.Hour)
	require.NoError(t, err)

	v := NewVerifier([]byte("secret-b"), nil)
	_, err = v.Verify(token)
	require.Error(t, err)
}

func TestVerifier_UsesCacheOnSecondCall(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "alice", []string{"player"}, time.Hour)
	require.NoError(t, err)

	cache := validationcache.New()
	v := NewVerifier(secret, cache)

	_, err = v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Size())

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
}
