package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/cuemby/rpxy/internal/config"
)

func selfSigned(t *testing.T, commonName string) *entry {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return &entry{
		cert:       &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf},
		leaf:       leaf,
		serverName: commonName,
	}
}

func TestGetCertificateExactAndWildcard(t *testing.T) {
	s := New()
	snap := &Snapshot{exact: map[string]*entry{}, wildcard: map[string]*entry{}}
	insert(snap, selfSigned(t, "app1.example.com"))
	insert(snap, selfSigned(t, "*.example.org"))
	s.current.Store(snap)

	tests := []struct {
		sni     string
		wantErr bool
	}{
		{"app1.example.com", false},
		{"api.example.org", false},
		{"sub.api.example.org", true}, // wildcard is single-label
		{"nowhere.invalid", true},
	}
	for _, tt := range tests {
		_, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: tt.sni})
		if (err != nil) != tt.wantErr {
			t.Errorf("GetCertificate(%q) err = %v, wantErr %v", tt.sni, err, tt.wantErr)
		}
	}
}

func TestReloadRejectsMissingCertificateFile(t *testing.T) {
	s := New()
	cfg := &config.Config{
		Apps: map[string]*config.Application{
			"bad": {
				ServerName: "bad.example.com",
				TLS: &config.TLSConfig{
					CertPath: "/nonexistent/cert.pem",
					KeyPath:  "/nonexistent/key.pem",
				},
			},
		},
	}
	if err := s.Reload(cfg); err == nil {
		t.Fatalf("expected Reload to fail for a missing certificate file")
	}
}
