package certgen

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, certPEM []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	require.Equal(t, "CERTIFICATE", block.Type)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestNewAuthority(t *testing.T) {
	ca, err := NewAuthority("Session Lock CA")
	require.NoError(t, err)

	assert.True(t, ca.Cert.IsCA)
	assert.True(t, ca.Cert.BasicConstraintsValid)
	assert.Equal(t, "Session Lock CA", ca.Cert.Subject.CommonName)
	assert.NotZero(t, ca.Cert.KeyUsage&x509.KeyUsageCertSign)
}

func TestIssueClient(t *testing.T) {
	ca, err := NewAuthority("ca")
	require.NoError(t, err)

	pair, err := ca.IssueClient("alice")
	require.NoError(t, err)

	cert := parse(t, pair.CertPEM)
	assert.Equal(t, "alice", cert.Subject.CommonName)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)
	require.NoError(t, cert.CheckSignatureFrom(ca.Cert))

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     ca.Pool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)

	_, err = pair.TLSCertificate()
	assert.NoError(t, err)

	_, err = ca.IssueClient("")
	assert.Error(t, err)
}

func TestIssueServer(t *testing.T) {
	ca, err := NewAuthority("ca")
	require.NoError(t, err)

	tests := []struct {
		host    string
		wantDNS []string
		wantIPs int
	}{
		{"localhost", []string{"localhost"}, 0},
		{"127.0.0.1", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			pair, err := ca.IssueServer(tt.host)
			require.NoError(t, err)
			cert := parse(t, pair.CertPEM)
			assert.Equal(t, tt.wantDNS, cert.DNSNames)
			assert.Len(t, cert.IPAddresses, tt.wantIPs)
			assert.NoError(t, cert.VerifyHostname(tt.host))
		})
	}
}

func TestWriteAndLoadAuthority(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewAuthority("ca")
	require.NoError(t, err)

	pair, err := ca.PEM()
	require.NoError(t, err)
	require.NoError(t, pair.Write(dir, "ca"))

	info, err := os.Stat(filepath.Join(dir, "ca.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.NoError(t, err)
	assert.True(t, loaded.Cert.Equal(ca.Cert))
	assert.True(t, loaded.Key.Equal(ca.Key))
}

func TestLoadAuthority_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))

	_, err := LoadAuthority(filepath.Join(dir, "missing.crt"), bad)
	assert.ErrorContains(t, err, "read ca cert")

	_, err = LoadAuthority(bad, bad)
	assert.ErrorContains(t, err, "invalid CA cert PEM")
}
