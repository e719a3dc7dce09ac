package microauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() *PasswordHasher {
	return &PasswordHasher{Algo: AlgoArgon2id, Argon2Memory: 1024, Argon2Time: 1, Argon2Threads: 1}
}

func TestPasswordHasherArgon2(t *testing.T) {
	h := fastArgon2()
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, h.Verify("correct horse", hash))
	assert.False(t, h.Verify("correct horsE", hash))
	assert.False(t, h.NeedsRehash(hash))

	other, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts differ")
}

func TestPasswordHasherBcrypt(t *testing.T) {
	h := &PasswordHasher{Algo: AlgoBcrypt, BcryptCost: bcrypt.MinCost}
	hash, err := h.Hash("secret123")
	require.NoError(t, err)
	assert.True(t, h.Verify("secret123", hash))
	assert.False(t, h.Verify("secret124", hash))
	assert.False(t, h.NeedsRehash(hash))

	h.BcryptCost = bcrypt.MinCost + 1
	assert.True(t, h.NeedsRehash(hash))
}

func TestPasswordHasherCrossAlgorithm(t *testing.T) {
	argon := fastArgon2()
	bc := &PasswordHasher{Algo: AlgoBcrypt, BcryptCost: bcrypt.MinCost}

	argonHash, err := argon.Hash("pw-one")
	require.NoError(t, err)
	bcryptHash, err := bc.Hash("pw-two")
	require.NoError(t, err)

	// Either hasher verifies both formats.
	assert.True(t, bc.Verify("pw-one", argonHash))
	assert.True(t, argon.Verify("pw-two", bcryptHash))

	assert.True(t, bc.NeedsRehash(argonHash))
	assert.True(t, argon.NeedsRehash(bcryptHash))

	stronger := fastArgon2()
	stronger.Argon2Time = 2
	assert.True(t, stronger.NeedsRehash(argonHash))
}

func TestPasswordHasherMalformed(t *testing.T) {
	h := fastArgon2()
	for _, bad := range []string{"", "plain", "$argon2id$v=19$m=1024$salt$key", "$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5"} {
		assert.False(t, h.Verify("pw", bad), bad)
		assert.True(t, h.NeedsRehash(bad), bad)
	}
}

func TestPasswordHasherRejectsUnsafeStoredParams(t *testing.T) {
	h := fastArgon2()
	good, err := h.Hash("pw")
	require.NoError(t, err)
	parts := strings.Split(good, "$")
	salt, key := parts[4], parts[5]

	for _, params := range []string{
		"m=65536,t=0,p=1",
		"m=65536,t=1,p=0",
		"m=0,t=1,p=1",
		"m=4,t=1,p=1",
		"m=4294967295,t=1,p=1",
		"m=1024,t=100000,p=1",
		"m=1024,t=1,p=256",
	} {
		encoded := "$argon2id$v=19$" + params + "$" + salt + "$" + key
		assert.NotPanics(t, func() {
			assert.False(t, h.Verify("pw", encoded), params)
		})
		assert.True(t, h.NeedsRehash(encoded), params)
	}
}

func TestPasswordHasherHashRejectsBadParams(t *testing.T) {
	for _, h := range []*PasswordHasher{
		{Algo: AlgoArgon2id, Argon2Memory: 1024, Argon2Time: 0, Argon2Threads: 1},
		{Algo: AlgoArgon2id, Argon2Memory: 1024, Argon2Time: 1, Argon2Threads: 0},
		{Algo: AlgoArgon2id, Argon2Memory: 0, Argon2Time: 1, Argon2Threads: 1},
	} {
		assert.NotPanics(t, func() {
			_, err := h.Hash("pw")
			assert.Error(t, err)
		})
	}
}

type mapConfig map[string]any

func (m mapConfig) Get(key string, def any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func TestPasswordHasherFromConfigFallsBack(t *testing.T) {
	h := PasswordHasherFromConfig(mapConfig{
		"security.bcrypt_cost":    99,
		"security.argon2.memory":  -1,
		"security.argon2.time":    0,
		"security.argon2.threads": 256,
		"security.password_algo":  AlgoArgon2id,
	})
	assert.Equal(t, bcrypt.DefaultCost, h.BcryptCost)
	assert.Equal(t, uint32(64*1024), h.Argon2Memory)
	assert.Equal(t, uint32(4), h.Argon2Time)
	assert.Equal(t, uint8(1), h.Argon2Threads)

	h = PasswordHasherFromConfig(mapConfig{
		"security.argon2.memory":  2048,
		"security.argon2.time":    2,
		"security.argon2.threads": 2,
	})
	assert.Equal(t, uint32(2048), h.Argon2Memory)
	assert.Equal(t, uint32(2), h.Argon2Time)
	assert.Equal(t, uint8(2), h.Argon2Threads)
	_, err := h.Hash("pw")
	assert.NoError(t, err)
}
