// Package tlsconf builds crypto/tls server configurations for the HTTP
// API, generating self-signed certificates on demand for setups that
// have none.
package tlsconf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// Config selects the certificate source for the API listener.
type Config struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
	// Dir holds tls.crt/tls.key when explicit files are not given.
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGen `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGen tunes self-signed certificate generation.
type AutoGen struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Setup returns a TLS configuration for c, or (nil, nil) when TLS is
// disabled. Certificates are loaded per handshake so a rotated pair on
// disk takes effect without a restart.
func Setup(c *Config) (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}

	if c.CertFile != "" && c.KeyFile != "" {
		return serverConfig(c.CertFile, c.KeyFile), nil
	}

	if c.Dir != "" {
		certPath := filepath.Join(c.Dir, certName)
		keyPath := filepath.Join(c.Dir, keyName)

		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(c, c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}

		return serverConfig(certPath, keyPath), nil
	}

	return nil, errors.New("TLS enabled but no certificate files or directory configured")
}

func serverConfig(certPath, keyPath string) *tls.Config {
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     tls.VersionTLS13,
	}
}

// certificateFunc loads the pair from disk on every handshake.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// safeReadFile reads file content confined to the base directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c *Config, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	ag := c.AutoGen
	if ag == nil {
		ag = &AutoGen{}
	}

	commonName := orDefault(ag.CommonName, "localhost")
	organization := orDefault(ag.Organization, "unitherd")
	dnsNames := orDefaultSlice(ag.DNSNames, []string{"localhost"})
	ipAddresses := orDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"})

	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}

	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: organization,
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, certName),
		KeyPath:      filepath.Join(destDir, keyName),
		CACertPath:   filepath.Join(destDir, caCertName),
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDefaultSlice(value, fallback []string) []string {
	if len(value) == 0 {
		return fallback
	}
	return value
}
