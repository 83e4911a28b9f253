package ldap

import (
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DefaultPageSize is the number of entries requested per page.
const DefaultPageSize = 500

// ConnectionConfig holds configuration for the LDAP backend.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (overrides domain)
	Timeout  time.Duration // Connection and per-request timeout

	// Authentication settings
	Username       string // Username for authentication (DN, UPN, or SAM format)
	Password       string // Password for simple bind authentication
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override

	// TLS settings
	TLSConfig *tls.Config // Custom TLS configuration
	UseTLS    bool        // Use LDAPS or StartTLS
	SkipTLS   bool        // Plain LDAP without StartTLS

	// Search settings
	PageSize int // Entries per page

	// Pool settings
	MaxConnections int           // Maximum idle connections kept in the pool
	MaxIdleTime    time.Duration // Maximum idle time before a connection is dropped

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		UseTLS:         true,
		PageSize:       DefaultPageSize,
		MaxConnections: 10,
		MaxIdleTime:    5 * time.Minute,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// withDefaults returns a copy of c with unset numeric settings taken from
// DefaultConfig.
func (c *ConnectionConfig) withDefaults() *ConnectionConfig {
	d := DefaultConfig()
	out := *c
	if out.Timeout == 0 {
		out.Timeout = d.Timeout
	}
	if out.PageSize == 0 {
		out.PageSize = d.PageSize
	}
	if out.MaxConnections == 0 {
		out.MaxConnections = d.MaxConnections
	}
	if out.MaxIdleTime == 0 {
		out.MaxIdleTime = d.MaxIdleTime
	}
	if out.InitialBackoff == 0 {
		out.InitialBackoff = d.InitialBackoff
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = d.MaxBackoff
	}
	if out.BackoffFactor == 0 {
		out.BackoffFactor = d.BackoffFactor
	}
	if out.TLSConfig == nil {
		out.TLSConfig = d.TLSConfig
	}
	return &out
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// conn is the part of *ldap.Conn the backend uses.
type conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	IsClosing() bool
	Close() error
}

// PooledConnection is a bound connection owned by the pool.
type PooledConnection struct {
	conn         conn
	lastUsed     time.Time
	healthy      bool
	serverInfo   *ServerInfo
	returnToPool func(*PooledConnection)
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Idle    int           // Idle connections
	Active  int64         // Connections handed out
	Created int64         // Total connections created
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Pool uptime
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodAnonymous  AuthMethod = iota // No credentials
	AuthMethodSimpleBind                   // Username/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodAnonymous:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "") {
		return AuthMethodKerberos
	}

	if c.Username != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodAnonymous
}
