/*
Package config holds the logical configuration schema described in
spec §6 and the validation spec §3's invariants require before the
object is handed to the router/certstore/load-balancer builders.

Parsing itself (TOML decoding) is an out-of-scope concern per spec §1 —
this package exists only to produce the validated object the core
consumes; see Load for the thin loader.
*/
package config

import "time"

// Config is the top-level, validated configuration object.
type Config struct {
	ListenPort           int    `toml:"listen_port"`
	ListenPortTLS        int    `toml:"listen_port_tls"`
	ListenPortH3         int    `toml:"listen_port_h3"`
	DefaultApplication   string `toml:"default_application"`
	MaxClients           int    `toml:"max_clients"`
	MaxConcurrentStreams int    `toml:"max_concurrent_streams"`

	// KeepaliveTimeoutSeconds is the wire representation; KeepaliveTimeout
	// is populated by Validate.
	KeepaliveTimeoutSeconds int `toml:"keepalive_timeout"`
	KeepaliveTimeout        time.Duration `toml:"-"`

	// GracefulTimeoutSeconds bounds connection draining on shutdown.
	GracefulTimeoutSeconds int           `toml:"graceful_timeout"`
	GracefulTimeout        time.Duration `toml:"-"`

	Apps map[string]*Application `toml:"apps"`
}

// Application is a named tenant: one server name, one TLS
// configuration, and an ordered list of routes.
type Application struct {
	// ID is the apps[<id>] map key, populated by Load/Validate.
	ID string `toml:"-"`

	ServerName string       `toml:"server_name"`
	TLS        *TLSConfig   `toml:"tls"`
	Routes     []*Route     `toml:"reverse_proxy"`

	// AccessLogFormat is accepted and stored but read by no code: it
	// has no effect on logging, routing or dispatch.
	AccessLogFormat string `toml:"access_log_format"`
}

// Route belongs to exactly one Application.
type Route struct {
	// Path is the explicit path pattern; empty means the default route.
	Path        string `toml:"path"`
	ReplacePath string `toml:"replace_path"`

	Upstream []*UpstreamLocation `toml:"upstream"`

	// LoadBalance selects the policy: round_robin (default), random, sticky.
	LoadBalance string `toml:"load_balance"`

	// StickyCookieName overrides the default sticky-session cookie name.
	StickyCookieName string `toml:"sticky_cookie_name"`

	// MaxRetries overrides the global default (3) for this route's group.
	MaxRetries int `toml:"max_retries"`

	// KeepOriginalHost preserves the inbound Host header instead of
	// rewriting it to the chosen upstream's authority.
	KeepOriginalHost bool `toml:"keep_original_host"`

	// RateLimit, when set, bounds requests per client IP for this route.
	RateLimit *RateLimit `toml:"rate_limit"`

	// AccessControl, when set, filters requests by client IP before
	// rate limiting and rewrite.
	AccessControl *AccessControl `toml:"access_control"`
}

// RateLimit is an optional per-client-IP request budget for a Route.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// AccessControl is an optional per-route IP allow/deny list. A denied
// match always wins over an allow match.
type AccessControl struct {
	AllowedIPs []string `toml:"allowed_ips"`
	DeniedIPs  []string `toml:"denied_ips"`
}

// UpstreamLocation is one backend in an Upstream Group.
type UpstreamLocation struct {
	// Location is the authority (host:port) of the backend.
	Location string `toml:"location"`
	TLS      bool   `toml:"tls"`

	// ServerNameOverride is the SNI sent to the backend; defaults to
	// the authority's host when empty.
	ServerNameOverride string `toml:"server_name_override"`

	// H2C enables plaintext HTTP/2 to this backend (ignored when TLS is set).
	H2C bool `toml:"h2c"`

	// Weight biases the random load-balancing policy; ignored by
	// round_robin. Zero is treated as 1 (uniform).
	Weight int `toml:"weight"`
}

// TLSConfig is an Application's TLS material and behavior.
type TLSConfig struct {
	CertPath    string `toml:"tls_cert_path"`
	KeyPath     string `toml:"tls_cert_key_path"`
	OCSPStaplingPath string `toml:"ocsp_stapling_path"`

	HTTPSRedirection bool   `toml:"https_redirection"`
	ClientCACertPath string `toml:"client_ca_cert_path"`

	ACME *ACMEConfig `toml:"acme"`
}

// ACMEConfig directs automatic certificate issuance/renewal for an
// Application marked ACME-managed.
type ACMEConfig struct {
	DirectoryURL  string `toml:"directory_url"`
	Contact       string `toml:"contact"`
	ChallengeType string `toml:"challenge_type"` // "tls-alpn-01" or "http-01"
}

const (
	LoadBalanceRoundRobin = "round_robin"
	LoadBalanceRandom     = "random"
	LoadBalanceSticky     = "sticky"

	ChallengeTLSALPN01 = "tls-alpn-01"
	ChallengeHTTP01    = "http-01"

	// DefaultStickyCookieName is used when a route enables sticky
	// sessions without naming a cookie (spec §9 Open Question).
	DefaultStickyCookieName = "rpxy_srv_id"

	// DefaultMaxRetries is the fallback for Route.MaxRetries.
	DefaultMaxRetries = 3

	// DefaultRenewalThreshold is how far ahead of expiry ACME renews (spec §4.A).
	DefaultRenewalThreshold = 30 * 24 * time.Hour
)
