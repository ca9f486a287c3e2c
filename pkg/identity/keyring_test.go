package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

func TestGenerateSignVerify(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	require.NotNil(t, k)

	data := []byte("hello overlay")
	sig, err := k.Sign(data)
	require.NoError(t, err)

	assert.NoError(t, k.Verify(k.PublicKey(), data, sig))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	sig, err := k.Sign([]byte("original"))
	require.NoError(t, err)

	err = k.Verify(k.PublicKey(), []byte("tampered"), sig)
	assert.ErrorIs(t, err, dht.ErrSignatureInvalid)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, a.PublicKey(), b.PublicKey())
}

func TestFromSeedRejectsWrongLength(t *testing.T) {
	_, err := FromSeed([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestIDIsHashOfPublicKey(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	h := Hasher{}
	want := h.Hash(k.PublicKey())
	assert.Equal(t, dht.NodeID(want), k.ID())
}
