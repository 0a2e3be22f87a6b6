package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/rpxy/internal/perr"
)

// requirePKCS8 enforces spec §6's "PKCS8 is the only accepted
// private-key encoding" rule by checking the PEM block type.
func requirePKCS8(keyPath string) error {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("private key %q is not PEM-encoded", keyPath)
	}
	if block.Type != "PRIVATE KEY" {
		return fmt.Errorf("private key %q is %s, only PKCS8 (PRIVATE KEY) is accepted", keyPath, block.Type)
	}
	return nil
}

// Validate checks every invariant spec §3 and §6 require of a loaded
// configuration, populating derived fields (durations, Application.ID)
// along the way. It returns the first violation as a *perr.Error of
// kind KindConfig.
func (c *Config) Validate() error {
	if c.ListenPort == 0 && c.ListenPortTLS == 0 && c.ListenPortH3 == 0 {
		return cfgErr("no listen_port, listen_port_tls, or listen_port_h3 configured")
	}

	c.KeepaliveTimeout = time.Duration(c.KeepaliveTimeoutSeconds) * time.Second
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 60 * time.Second
	}
	c.GracefulTimeout = time.Duration(c.GracefulTimeoutSeconds) * time.Second
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 30 * time.Second
	}

	if c.DefaultApplication != "" {
		if _, ok := c.Apps[c.DefaultApplication]; !ok {
			return cfgErr(fmt.Sprintf("default_application %q does not name a configured app", c.DefaultApplication))
		}
	}

	for id, app := range c.Apps {
		app.ID = id
		if err := app.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (a *Application) validate() error {
	if a.ServerName == "" {
		return cfgErr(fmt.Sprintf("app %q: server_name is required", a.ID))
	}
	if err := validateWildcard(a.ServerName); err != nil {
		return cfgErr(fmt.Sprintf("app %q: %v", a.ID, err))
	}

	var haveDefault bool
	seenPaths := map[string]bool{}
	for _, r := range a.Routes {
		if r.Path == "" {
			if haveDefault {
				return cfgErr(fmt.Sprintf("app %q: more than one default route (route without path)", a.ID))
			}
			haveDefault = true
		} else {
			if seenPaths[r.Path] {
				return cfgErr(fmt.Sprintf("app %q: duplicate path pattern %q", a.ID, r.Path))
			}
			seenPaths[r.Path] = true
		}
		if err := r.validate(); err != nil {
			return cfgErr(fmt.Sprintf("app %q: %v", a.ID, err))
		}
	}

	if a.TLS != nil {
		if err := a.TLS.validate(a.ServerName); err != nil {
			return cfgErr(fmt.Sprintf("app %q: tls: %v", a.ID, err))
		}
	}

	return nil
}

func (r *Route) validate() error {
	if len(r.Upstream) == 0 {
		return fmt.Errorf("route %q: at least one upstream location is required", r.Path)
	}
	switch r.LoadBalance {
	case "", LoadBalanceRoundRobin, LoadBalanceRandom, LoadBalanceSticky:
	default:
		return fmt.Errorf("route %q: unknown load_balance policy %q", r.Path, r.LoadBalance)
	}
	for _, u := range r.Upstream {
		if u.Location == "" {
			return fmt.Errorf("route %q: upstream location (host:port) is required", r.Path)
		}
	}
	return nil
}

// validate checks that the PEM-encoded leaf certificate's public key
// matches the PKCS8 private key and that its SAN list covers
// serverName, per spec §3's TLS Configuration invariant. ACME-managed
// configurations (no cert path yet) are exempt until first issuance.
func (t *TLSConfig) validate(serverName string) error {
	if t.ACME != nil {
		switch t.ACME.ChallengeType {
		case "", ChallengeTLSALPN01, ChallengeHTTP01:
		default:
			return fmt.Errorf("acme: unknown challenge_type %q", t.ACME.ChallengeType)
		}
		if t.CertPath == "" {
			return nil
		}
	}

	if t.CertPath == "" || t.KeyPath == "" {
		return fmt.Errorf("tls_cert_path and tls_cert_key_path are required unless acme is configured")
	}

	cert, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
	if err != nil {
		return fmt.Errorf("loading certificate/key: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parsing leaf certificate: %w", err)
	}
	if err := leaf.VerifyHostname(wildcardToVerifiable(serverName)); err != nil {
		return fmt.Errorf("certificate SAN does not cover server_name %q: %w", serverName, err)
	}
	if err := requirePKCS8(t.KeyPath); err != nil {
		return err
	}
	return nil
}

// validateWildcard enforces that wildcard server names cover exactly
// one leading label (spec §9 Design Notes).
func validateWildcard(name string) error {
	if !strings.HasPrefix(name, "*.") {
		return nil
	}
	rest := name[2:]
	if rest == "" || strings.Contains(rest, "*") {
		return fmt.Errorf("server_name %q: multi-label or empty wildcard is not supported", name)
	}
	return nil
}

// wildcardToVerifiable turns a "*.example.com" server name into a
// concrete name VerifyHostname can check against a SAN wildcard entry.
func wildcardToVerifiable(name string) string {
	if strings.HasPrefix(name, "*.") {
		return "probe" + name[1:]
	}
	return name
}

func cfgErr(msg string) error {
	return perr.New(perr.KindConfig, fmt.Errorf("%s", msg))
}
