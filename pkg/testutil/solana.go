package testutil

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

// GenerateSolanaKeypair returns a fresh signing key, failing t on error
func GenerateSolanaKeypair(t *testing.T) ed25519.PrivateKey {
	_, private, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return private
}

// GenerateSolanaKeys returns n fresh addresses with no retained private keys
func GenerateSolanaKeys(t *testing.T, n int) []ed25519.PublicKey {
	var addresses []ed25519.PublicKey
	for len(addresses) < n {
		addresses = append(addresses, GenerateSolanaKeypair(t).Public().(ed25519.PublicKey))
	}
	return addresses
}
