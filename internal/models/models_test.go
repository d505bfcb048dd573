package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	u := &User{PasswordHash: hash}
	assert.True(t, u.CheckPassword("s3cret-pass"))
	assert.False(t, u.CheckPassword("wrong"))
}

func TestTierValid(t *testing.T) {
	assert.True(t, TierBronze.Valid())
	assert.True(t, TierGold.Valid())
	assert.False(t, VMTier("platinum").Valid())
	assert.False(t, VMTier("").Valid())
}

func TestStatusLocked(t *testing.T) {
	assert.True(t, RequestStatusCreating.Locked())
	assert.True(t, RequestStatusCreated.Locked())
	assert.False(t, RequestStatusPending.Locked())
	assert.False(t, RequestStatusError.Locked())
	assert.False(t, RequestStatusRejected.Locked())
}
