package certstore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/log"
	"github.com/cuemby/rpxy/internal/metrics"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketACMEAccounts     = []byte("acme_accounts")
	bucketACMECertificates = []byte("acme_certificates")
)

// acmeUser implements lego's registration.User.
type acmeUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource  { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey         { return u.key }

// httpChallengeProvider records HTTP-01 key authorizations for
// GetKeyAuth to look up. No listener in this repository serves the
// /.well-known/acme-challenge/ path from it.
type httpChallengeProvider struct {
	mu         sync.RWMutex
	challenges map[string]map[string]string // domain -> token -> keyAuth
}

func newHTTPChallengeProvider() *httpChallengeProvider {
	return &httpChallengeProvider{challenges: make(map[string]map[string]string)}
}

func (p *httpChallengeProvider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.challenges[domain] == nil {
		p.challenges[domain] = make(map[string]string)
	}
	p.challenges[domain][token] = keyAuth
	return nil
}

func (p *httpChallengeProvider) CleanUp(domain, token, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.challenges[domain], token)
	if len(p.challenges[domain]) == 0 {
		delete(p.challenges, domain)
	}
	return nil
}

// GetKeyAuth retrieves the key authorization for domain/token, for use
// by the HTTP-01 well-known handler.
func (p *httpChallengeProvider) GetKeyAuth(domain, token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keyAuth, ok := p.challenges[domain][token]
	return keyAuth, ok
}

// ACMEManager issues and renews certificates via go-acme/lego,
// generalized from cuemby-warren's pkg/ingress/acme.go ACMEClient from
// a single proxy-wide account to one account serving every
// ACME-managed Application, with a bbolt-backed cache (adapted from
// pkg/storage/boltdb.go's bucket-per-kind pattern) so a restart does
// not re-issue certificates that are still valid.
type ACMEManager struct {
	mu         sync.RWMutex
	client     *lego.Client
	user       *acmeUser
	httpProv   *httpChallengeProvider
	cacheDB    *bolt.DB
	entries    map[string]*entry // server_name -> cached entry
	store      *Store            // set by Store.WithACME
}

// NewACMEManager registers an ACME account and opens the local cache
// database at cachePath.
func NewACMEManager(cfg *config.ACMEConfig, contact, cachePath string) (*ACMEManager, error) {
	db, err := bolt.Open(cachePath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening acme cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketACMEAccounts, bucketACMECertificates} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing acme cache buckets: %w", err)
	}

	m := &ACMEManager{cacheDB: db, entries: make(map[string]*entry)}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("generating acme account key: %w", err)
	}
	user := &acmeUser{Email: contact, key: key}

	legoCfg := lego.NewConfig(user)
	if cfg.DirectoryURL != "" {
		legoCfg.CADirURL = cfg.DirectoryURL
	}
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating acme client: %w", err)
	}

	switch cfg.ChallengeType {
	case config.ChallengeHTTP01:
		m.httpProv = newHTTPChallengeProvider()
		if err := client.Challenge.SetHTTP01Provider(m.httpProv); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting http-01 provider: %w", err)
		}
	default: // tls-alpn-01
		if err := client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "")); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting tls-alpn-01 provider: %w", err)
		}
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registering acme account: %w", err)
	}
	user.Registration = reg
	m.client = client
	m.user = user

	m.loadCache()
	return m, nil
}

// HTTPChallengeHandler exposes the ACME HTTP-01 key-authorization
// lookup; nil when HTTP-01 is not in use. Nothing calls it.
func (m *ACMEManager) HTTPChallengeHandler() func(domain, token string) (string, bool) {
	if m.httpProv == nil {
		return nil
	}
	return m.httpProv.GetKeyAuth
}

// Obtain requests a fresh certificate for the given domains and caches it.
func (m *ACMEManager) Obtain(domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.client.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
	if err != nil {
		return fmt.Errorf("obtaining certificate for %v: %w", domains, err)
	}
	return m.cache(domains[0], res.Certificate, res.PrivateKey)
}

// RenewDue renews every cached certificate within config.DefaultRenewalThreshold of expiry.
func (m *ACMEManager) RenewDue() {
	m.mu.RLock()
	due := make([]string, 0)
	now := time.Now()
	for name, e := range m.entries {
		if e.leaf.NotAfter.Sub(now) <= config.DefaultRenewalThreshold {
			due = append(due, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range due {
		if err := m.Obtain([]string{name}); err != nil {
			metrics.ACMERenewalsTotal.WithLabelValues("failure").Inc()
			log.Event(log.ErrorLevel).Err(err).Str("server_name", name).Msg("acme renewal failed")
			continue
		}
		metrics.ACMERenewalsTotal.WithLabelValues("success").Inc()
		log.Event(log.InfoLevel).Str("server_name", name).Msg("acme certificate renewed")
	}
}

// StartRenewalLoop checks for due renewals once a day, matching
// pkg/ingress/acme.go's StartRenewalJob cadence.
func (m *ACMEManager) StartRenewalLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RenewDue()
			case <-stop:
				return
			}
		}
	}()
}

func (m *ACMEManager) cached(serverName string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[serverName]
}

func (m *ACMEManager) cache(serverName string, certPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("parsing obtained certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("decoding obtained certificate PEM")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("parsing obtained certificate: %w", err)
	}
	cert.Leaf = leaf

	e := &entry{cert: &cert, leaf: leaf, serverName: serverName}

	m.mu.Lock()
	m.entries[serverName] = e
	m.mu.Unlock()

	return m.cacheDB.Update(func(tx *bolt.Tx) error {
		record := struct {
			CertPEM []byte `json:"cert_pem"`
			KeyPEM  []byte `json:"key_pem"`
		}{certPEM, keyPEM}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketACMECertificates).Put([]byte(serverName), data)
	})
}

// loadCache populates m.entries from the bbolt cache on startup so a
// restart does not immediately re-issue every ACME certificate.
func (m *ACMEManager) loadCache() {
	_ = m.cacheDB.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketACMECertificates).ForEach(func(k, v []byte) error {
			var record struct {
				CertPEM []byte `json:"cert_pem"`
				KeyPEM  []byte `json:"key_pem"`
			}
			if err := json.Unmarshal(v, &record); err != nil {
				return nil // skip corrupt entries rather than fail startup
			}
			serverName := string(k)
			cert, err := tls.X509KeyPair(record.CertPEM, record.KeyPEM)
			if err != nil {
				return nil
			}
			block, _ := pem.Decode(record.CertPEM)
			if block == nil {
				return nil
			}
			leaf, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil
			}
			cert.Leaf = leaf
			m.entries[serverName] = &entry{cert: &cert, leaf: leaf, serverName: serverName}
			return nil
		})
	})
}

// Close releases the cache database handle.
func (m *ACMEManager) Close() error {
	return m.cacheDB.Close()
}
