package cryptoutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFileRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sub", "identity.pem")
	assert.False(t, IdentityExists(path))
	require.NoError(t, SaveIdentityFile(path, id))
	assert.True(t, IdentityExists(path))

	loaded, err := LoadIdentityFile(path)
	require.NoError(t, err)
	assert.Equal(t, id.Private.D, loaded.Private.D)
}

func TestPublicKeyFileRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "identity.pub")
	require.NoError(t, SavePublicKeyFile(path, id.PublicKey()))

	loaded, err := LoadPublicKeyFile(path)
	require.NoError(t, err)
	assert.True(t, id.PublicKey().Equal(loaded))
}
