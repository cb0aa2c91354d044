// Package tlsconfig builds TLS settings for the gateway listener.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds TLS options for an HTTP server.
type Config struct {
	// CertFile and KeyFile are PEM files. Both empty disables TLS.
	CertFile string
	KeyFile  string

	// ClientCAFile, when set, requires clients to present a certificate
	// signed by one of the CAs in this PEM file.
	ClientCAFile string
}

// Enabled reports whether a certificate is configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Validate checks that the options are consistent.
func (c Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls: certificate and key must be given together")
	}
	if c.ClientCAFile != "" && !c.Enabled() {
		return errors.New("tls: client CA requires a server certificate")
	}
	return nil
}

// Server returns the server TLS configuration, or nil when TLS is disabled.
func (c Config) Server() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %q: %w", c.CertFile, err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if c.ClientCAFile != "" {
		pool, err := loadPool(c.ClientCAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate file %q: no valid certificates found", path)
	}
	return pool, nil
}
