/*
Package certstore implements the Certificate Store of spec §4.A: it
loads server certificates (static, file-based) and optionally obtains
and renews them via ACME, publishing the result as an immutable
Snapshot an atomic.Pointer swap makes visible to the TLS Acceptor
without ever locking a live handshake.

Grounded on cuemby-warren's pkg/ingress/proxy.go loadTLSCertificates/
ReloadTLSCertificates (build-a-fresh-tls.Config, then swap it in) and
pkg/ingress/acme.go (the ACME client/renewal-loop shape), generalized
from Warren's single shared tls.Config to per-Application certificate
selection keyed by server name (spec §4.A/§4.E).
*/
package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/inbound"
	"github.com/cuemby/rpxy/internal/log"
	"github.com/cuemby/rpxy/internal/perr"
)

// entry is one Application's loaded certificate plus the metadata the
// renewal loop and GetCertificate both need.
type entry struct {
	cert       *tls.Certificate
	leaf       *x509.Certificate
	serverName string
	acme       *config.ACMEConfig
}

// Snapshot is the immutable, queryable state published by a successful
// Load or Reload.
type Snapshot struct {
	exact    map[string]*entry
	wildcard map[string]*entry // suffix after the leading label -> entry
}

// Store holds the current Snapshot behind an atomic pointer and, when
// configured, drives ACME issuance/renewal.
type Store struct {
	current atomic.Pointer[Snapshot]
	acme    *ACMEManager // nil unless at least one Application uses ACME
}

// New builds a Store with an empty snapshot; call Reload to populate it.
func New() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{exact: map[string]*entry{}, wildcard: map[string]*entry{}})
	return s
}

// Reload rebuilds the snapshot from cfg's applications and publishes
// it atomically; in-flight handshakes keep using the prior snapshot.
func (s *Store) Reload(cfg *config.Config) error {
	snap := &Snapshot{exact: map[string]*entry{}, wildcard: map[string]*entry{}}

	for _, app := range cfg.Apps {
		if app.TLS == nil {
			continue
		}
		if app.TLS.ACME != nil {
			// ACME-managed applications are populated by the ACME
			// manager's issue/renew loop (acme.go), not here; skip
			// until a certificate has actually been obtained.
			if s.acme != nil {
				if e := s.acme.cached(app.ServerName); e != nil {
					insert(snap, e)
					continue
				}
			}
			continue
		}

		cert, err := tls.LoadX509KeyPair(app.TLS.CertPath, app.TLS.KeyPath)
		if err != nil {
			return perr.New(perr.KindConfig, fmt.Errorf("loading certificate for %q: %w", app.ServerName, err))
		}
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return perr.New(perr.KindConfig, fmt.Errorf("parsing certificate for %q: %w", app.ServerName, err))
		}
		cert.Leaf = leaf
		insert(snap, &entry{cert: &cert, leaf: leaf, serverName: app.ServerName, acme: app.TLS.ACME})
	}

	s.current.Store(snap)
	log.Event(log.InfoLevel).
		Int("exact_hosts", len(snap.exact)).
		Int("wildcard_hosts", len(snap.wildcard)).
		Msg("certificate store reloaded")
	return nil
}

func insert(snap *Snapshot, e *entry) {
	if len(e.serverName) > 2 && e.serverName[:2] == "*." {
		snap.wildcard[e.serverName[2:]] = e
	} else {
		snap.exact[e.serverName] = e
	}
}

// GetCertificate implements tls.Config.GetCertificate: exact match
// first, then single-label wildcard, mirroring the router's host
// lookup rule (spec §4.A step using the same precedence as §4.B).
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := inbound.NormalizeHost(hello.ServerName)
	snap := s.current.Load()

	if e, ok := snap.exact[name]; ok {
		return e.cert, nil
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			if e, ok := snap.wildcard[name[i+1:]]; ok {
				return e.cert, nil
			}
			break
		}
	}
	return nil, perr.New(perr.KindTLSHandshake, fmt.Errorf("no certificate for server name %q", hello.ServerName))
}

// NotAfter returns the current certificate's expiry for server name, if loaded.
func (s *Store) NotAfter(serverName string) (time.Time, bool) {
	snap := s.current.Load()
	if len(serverName) > 2 && serverName[:2] == "*." {
		if e, ok := snap.wildcard[serverName[2:]]; ok {
			return e.leaf.NotAfter, true
		}
		return time.Time{}, false
	}
	if e, ok := snap.exact[serverName]; ok {
		return e.leaf.NotAfter, true
	}
	return time.Time{}, false
}

// WithACME attaches an ACMEManager so Reload can consult its cache for
// ACME-managed applications.
func (s *Store) WithACME(m *ACMEManager) {
	s.acme = m
	m.store = s
}

// SampleCertificateExpiry implements internal/metrics.Sampler: seconds
// until expiry for every loaded certificate, for the expiry gauge.
func (s *Store) SampleCertificateExpiry() map[string]float64 {
	snap := s.current.Load()
	now := time.Now()
	out := make(map[string]float64, len(snap.exact)+len(snap.wildcard))
	for name, e := range snap.exact {
		out[name] = e.leaf.NotAfter.Sub(now).Seconds()
	}
	for suffix, e := range snap.wildcard {
		out["*."+suffix] = e.leaf.NotAfter.Sub(now).Seconds()
	}
	return out
}
