package cluster_test

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSConfig_ClientConfig(t *testing.T) {
	certs := testutil.WriteCerts(t)

	cfg, err := cluster.TLSConfig{
		CA:     certs.CA,
		Cert:   certs.Cert,
		Key:    certs.Key,
		Cipher: "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	}.ClientConfig("db1")
	require.NoError(t, err)

	assert.Equal(t, "db1", cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	}, cfg.CipherSuites)
}

func TestTLSConfig_CAPath(t *testing.T) {
	certs := testutil.WriteCerts(t)
	require.NoError(t, os.WriteFile(filepath.Join(certs.Dir, "notes.txt"), []byte("ignored"), 0600))

	cfg, err := cluster.TLSConfig{CAPath: certs.Dir, ServerName: "db.internal"}.ClientConfig("db1")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)
}

func TestTLSConfig_Errors(t *testing.T) {
	certs := testutil.WriteCerts(t)

	tests := []struct {
		name string
		cfg  cluster.TLSConfig
	}{
		{"missing ca file", cluster.TLSConfig{CA: filepath.Join(certs.Dir, "missing.pem")}},
		{"ca without certificates", cluster.TLSConfig{CA: certs.Key}},
		{"key without cert", cluster.TLSConfig{Key: certs.Key}},
		{"unknown cipher", cluster.TLSConfig{CA: certs.CA, Cipher: "DHE-RSA-AES256-SHA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.ClientConfig("db1")
			assert.Error(t, err)
		})
	}
}
