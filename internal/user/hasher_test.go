package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() Argon2Hasher {
	return Argon2Hasher{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashers(t *testing.T) {
	for name, h := range map[string]PasswordHasher{
		"bcrypt":   BcryptHasher{Cost: bcrypt.MinCost},
		"argon2id": fastArgon2(),
	} {
		t.Run(name, func(t *testing.T) {
			hash, algo, err := h.Hash("correct horse")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(algo, name))
			assert.NotContains(t, hash, "correct horse")
			assert.True(t, h.Verify(hash, "correct horse"))
			assert.False(t, h.Verify(hash, "wrong horse"))
			assert.False(t, h.NeedsRehash(hash))

			again, _, err := h.Hash("correct horse")
			require.NoError(t, err)
			assert.NotEqual(t, hash, again, "salt must differ")
		})
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, _, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash("pw123456")
	require.NoError(t, err)
	assert.True(t, BcryptHasher{Cost: bcrypt.MinCost + 1}.NeedsRehash(weak))
	assert.True(t, fastArgon2().NeedsRehash(weak))

	a, _, err := fastArgon2().Hash("pw123456")
	require.NoError(t, err)
	assert.True(t, BcryptHasher{Cost: bcrypt.MinCost}.NeedsRehash(a))
	stronger := fastArgon2()
	stronger.Time = 2
	assert.True(t, stronger.NeedsRehash(a))
}

func TestVerifierFor(t *testing.T) {
	a, _, err := fastArgon2().Hash("pw123456")
	require.NoError(t, err)
	b, _, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash("pw123456")
	require.NoError(t, err)

	bc := BcryptHasher{Cost: bcrypt.MinCost}
	assert.True(t, verifierFor(a, bc).Verify(a, "pw123456"))
	assert.True(t, verifierFor(b, fastArgon2()).Verify(b, "pw123456"))
	assert.False(t, fastArgon2().Verify("$argon2id$garbage", "pw123456"))
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("", 10)
	require.NoError(t, err)
	assert.Equal(t, BcryptHasher{Cost: 10}, h)
	h, err = NewHasher("argon2id", 0)
	require.NoError(t, err)
	assert.IsType(t, Argon2Hasher{}, h)
	_, err = NewHasher("md5", 0)
	assert.Error(t, err)
}
