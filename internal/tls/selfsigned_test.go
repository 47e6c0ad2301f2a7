package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCert(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certs", "dev.crt")
	keyPath := filepath.Join(dir, "certs", "dev.key")

	generated, err := EnsureCert(certPath, keyPath, []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.True(t, generated)

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
	assert.NoError(t, leaf.VerifyHostname("localhost"))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	generated, err = EnsureCert(certPath, keyPath, nil)
	require.NoError(t, err)
	assert.False(t, generated, "existing certificate is kept")
}

func TestEnsureCert_NoHosts(t *testing.T) {
	dir := t.TempDir()
	_, err := EnsureCert(filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key"), nil)
	assert.Error(t, err)
}
