package lookup

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// CredentialsConfig points at the client certificate material
type CredentialsConfig struct {
	PFXFile            string
	PFXPassphrase      string
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// Credentials are read once at startup and shared read-only by every call
type Credentials struct {
	certificates       []tls.Certificate
	rootCAs            *x509.CertPool
	insecureSkipVerify bool
}

// LoadCredentials reads the client certificate (PKCS#12 or PEM pair) and optional CA bundle
func LoadCredentials(cfg CredentialsConfig) (*Credentials, error) {
	creds := &Credentials{insecureSkipVerify: cfg.InsecureSkipVerify}

	switch {
	case cfg.PFXFile != "":
		cert, err := loadPFX(cfg.PFXFile, cfg.PFXPassphrase)
		if err != nil {
			return nil, err
		}
		creds.certificates = []tls.Certificate{cert}
	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		creds.certificates = []tls.Certificate{cert}
	default:
		return nil, errors.New("no client certificate configured")
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", cfg.CAFile)
		}
		creds.rootCAs = pool
	}

	return creds, nil
}

func loadPFX(path, passphrase string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read pfx file: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode pfx file: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// TLSConfig builds the client TLS configuration. A nil receiver yields a
// verified, certificate-less config.
func (c *Credentials) TLSConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c == nil {
		return cfg
	}
	cfg.Certificates = c.certificates
	cfg.RootCAs = c.rootCAs
	cfg.InsecureSkipVerify = c.insecureSkipVerify
	return cfg
}

// Insecure reports whether server certificate verification is disabled
func (c *Credentials) Insecure() bool {
	return c != nil && c.insecureSkipVerify
}
