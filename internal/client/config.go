package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const (
	EnvAddress       = "EDBRIDGE_ADDR"
	EnvTLSInsecure   = "EDBRIDGE_TLS_INSECURE"
	EnvTLSCACert     = "EDBRIDGE_TLS_CA_CERT"
	EnvTLSServerName = "EDBRIDGE_TLS_SERVER_NAME"
)

// TLSSettings describes how wss and https targets are verified.
type TLSSettings struct {
	Insecure   bool
	CACertPath string
	ServerName string
}

// TLSSettingsFromEnv reads the EDBRIDGE_TLS_* variables.
func TLSSettingsFromEnv() TLSSettings {
	insecure := strings.TrimSpace(os.Getenv(EnvTLSInsecure))
	return TLSSettings{
		Insecure:   insecure == "1" || strings.EqualFold(insecure, "true"),
		CACertPath: strings.TrimSpace(os.Getenv(EnvTLSCACert)),
		ServerName: strings.TrimSpace(os.Getenv(EnvTLSServerName)),
	}
}

// ResolveTarget picks the daemon address: an explicit flag value first,
// then EDBRIDGE_ADDR, then the fallback (usually the configured socket).
func ResolveTarget(flagValue, fallback string) string {
	for _, v := range []string{flagValue, os.Getenv(EnvAddress)} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}

func isSecureTarget(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "wss" || scheme == "https"
}

// ConfigFor returns the tls.Config for target. Plain ws, http and IPC
// targets get nil.
func (s TLSSettings) ConfigFor(target string) (*tls.Config, error) {
	if !isSecureTarget(target) {
		return nil, nil
	}
	if s.Insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	cfg := &tls.Config{ServerName: s.ServerName}
	if s.CACertPath == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(s.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("client: read CA certificate: %w", err)
	}
	cfg.RootCAs = x509.NewCertPool()
	if !cfg.RootCAs.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client: no certificates in %s", s.CACertPath)
	}
	return cfg, nil
}
