package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClientConfig loads the configured certificate material into a client
// *tls.Config. serverName is used for verification unless ServerName is set.
//
// Cipher is a colon separated list of Go cipher suite names such as
// TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256. It only affects TLS 1.2 and below.
func (t TLSConfig) ClientConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if t.ServerName != "" {
		cfg.ServerName = t.ServerName
	}

	if t.CA != "" || t.CAPath != "" {
		pool := x509.NewCertPool()
		if t.CA != "" {
			if err := appendPEM(pool, t.CA); err != nil {
				return nil, err
			}
		}
		if t.CAPath != "" {
			entries, err := os.ReadDir(t.CAPath)
			if err != nil {
				return nil, fmt.Errorf("read ca path: %w", err)
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				switch filepath.Ext(e.Name()) {
				case ".pem", ".crt":
					if err := appendPEM(pool, filepath.Join(t.CAPath, e.Name())); err != nil {
						return nil, err
					}
				}
			}
		}
		cfg.RootCAs = pool
	}

	if t.Cert != "" || t.Key != "" {
		if t.Cert == "" || t.Key == "" {
			return nil, fmt.Errorf("both cert and key are required for a client certificate")
		}
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if t.Cipher != "" {
		suites, err := cipherSuites(t.Cipher)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}
	return cfg, nil
}

func appendPEM(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ca %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no certificates found in %s", path)
	}
	return nil
}

func cipherSuites(list string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}

	var ids []uint16
	for _, name := range strings.Split(list, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
