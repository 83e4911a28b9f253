package adws

import (
	"crypto/tls"
	"fmt"
	"time"
)

const (
	DefaultPort        = 9389
	DefaultLDAPPort    = 389
	DefaultMaxElements = 256
	DefaultTimeout     = 30 * time.Second

	maxMaxElements = 10000
)

// Config holds the settings for an ADWS backend.
type Config struct {
	// Server is the domain controller host. When empty a controller for
	// Domain is located through DNS.
	Server string
	Domain string
	Port   int

	// LDAPPort selects the directory instance behind the web service:
	// 389 for the domain partition, 3268 for the global catalog.
	LDAPPort int

	UseTLS        bool
	SkipTLSVerify bool
	TLSConfig     *tls.Config

	// Authentication. A Kerberos realm with credentials selects SPNEGO,
	// a username and password alone select NTLM, and no credentials use
	// the current Windows logon session where available.
	Username       string
	Password       string
	KerberosRealm  string
	KerberosConfig string
	KerberosKeytab string
	KerberosCCache string
	KerberosSPN    string

	Timeout     time.Duration
	MaxElements int
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig() *Config {
	return &Config{
		Port:        DefaultPort,
		LDAPPort:    DefaultLDAPPort,
		Timeout:     DefaultTimeout,
		MaxElements: DefaultMaxElements,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.LDAPPort == 0 {
		out.LDAPPort = DefaultLDAPPort
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxElements == 0 {
		out.MaxElements = DefaultMaxElements
	}
	return &out
}

func (c *Config) validate() error {
	if c.Server == "" && c.Domain == "" {
		return fmt.Errorf("either server or domain must be specified")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LDAPPort <= 0 || c.LDAPPort > 65535 {
		return fmt.Errorf("invalid LDAP instance port %d", c.LDAPPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.MaxElements < 1 || c.MaxElements > maxMaxElements {
		return fmt.Errorf("MaxElements must be between 1 and %d", maxMaxElements)
	}
	if c.Password != "" && c.Username == "" {
		return fmt.Errorf("password given without username")
	}
	return nil
}

type authMethod int

const (
	authCurrentUser authMethod = iota
	authNTLM
	authKerberos
)

func (m authMethod) String() string {
	switch m {
	case authCurrentUser:
		return "current-user"
	case authNTLM:
		return "ntlm"
	case authKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

func (c *Config) authMethod() authMethod {
	if c.KerberosRealm != "" && (c.Username != "" || c.KerberosKeytab != "" || c.KerberosCCache != "") {
		return authKerberos
	}
	if c.Username != "" {
		return authNTLM
	}
	return authCurrentUser
}
