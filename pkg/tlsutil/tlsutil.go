// Package tlsutil builds a *tls.Config from the update client's certificate
// configuration: an optional supplied server CA (falling back to the system
// trust store) and an optional client certificate + key for mTLS.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Options mirrors the certificate-related fields of pkg/config.Config.
type Options struct {
	ServerCertificate    string
	ClientCertificate    string
	ClientCertificateKey string
	SkipVerify           bool
}

// Build constructs a tls.Config satisfying the verification rules of
// SPEC_FULL.md's HTTP transport: system trust store unless a server
// certificate is supplied, SNI/hostname verification always enforced unless
// explicitly disabled, optional client certificate.
func Build(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.SkipVerify,
	}

	if opts.ServerCertificate != "" {
		pool, err := loadCertPool(opts.ServerCertificate)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if opts.ClientCertificate != "" {
		if opts.ClientCertificateKey == "" {
			return nil, fmt.Errorf("client_certificate_key is required when client_certificate is set")
		}
		cert, err := tls.LoadX509KeyPair(opts.ClientCertificate, opts.ClientCertificateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
