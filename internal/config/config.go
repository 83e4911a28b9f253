package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/isometry/adscan/internal/adws"
	"github.com/isometry/adscan/internal/directory"
	adldap "github.com/isometry/adscan/internal/ldap"
)

// EnvPrefix prefixes every environment override, e.g. ADSCAN_SERVER.
const EnvPrefix = "ADSCAN_"

// DefaultDotEnv is loaded by LoadDotEnv when no path is given.
const DefaultDotEnv = ".env"

// Config is the file and environment configuration of a directory
// connection.
type Config struct {
	Server string `yaml:"server"`
	Domain string `yaml:"domain"`
	Mode   string `yaml:"mode" default:"adws-then-ldap"`

	// LDAPPort defaults to 636 with use_tls and 389 otherwise.
	LDAPPort      int  `yaml:"ldap_port"`
	ADWSPort      int  `yaml:"adws_port" default:"9389"`
	ADWSInstance  int  `yaml:"adws_instance" default:"389"`
	UseTLS        bool `yaml:"use_tls"`
	StartTLS      bool `yaml:"start_tls"`
	SkipTLSVerify bool `yaml:"skip_tls_verify"`

	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	KerberosRealm  string `yaml:"kerberos_realm"`
	KerberosConfig string `yaml:"kerberos_config"`
	KerberosKeytab string `yaml:"kerberos_keytab"`
	KerberosCCache string `yaml:"kerberos_ccache"`

	PageSize        int           `yaml:"page_size" default:"500"`
	PullMaxElements int           `yaml:"pull_max_elements" default:"256"`
	Timeout         time.Duration `yaml:"timeout" default:"30s"`
	MaxRetries      int           `yaml:"max_retries" default:"3"`

	DNSSuffixes  []string `yaml:"dns_suffixes"`
	OUSplitDepth int      `yaml:"ou_split_depth"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config holding only default values.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// Load reads the configuration like Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads the YAML file at path over the defaults and applies ADSCAN_*
// environment overrides. An empty path skips the file.
func Read(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		cleanPath := filepath.Clean(path)
		data, err := os.ReadFile(cleanPath) // #nosec G304 - path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. An empty path loads
// DefaultDotEnv when it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultDotEnv); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = DefaultDotEnv
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"SERVER", stringVar(func(c *Config) *string { return &c.Server })},
	{"DOMAIN", stringVar(func(c *Config) *string { return &c.Domain })},
	{"MODE", stringVar(func(c *Config) *string { return &c.Mode })},
	{"LDAP_PORT", intVar(func(c *Config) *int { return &c.LDAPPort })},
	{"ADWS_PORT", intVar(func(c *Config) *int { return &c.ADWSPort })},
	{"ADWS_INSTANCE", intVar(func(c *Config) *int { return &c.ADWSInstance })},
	{"USE_TLS", boolVar(func(c *Config) *bool { return &c.UseTLS })},
	{"START_TLS", boolVar(func(c *Config) *bool { return &c.StartTLS })},
	{"SKIP_TLS_VERIFY", boolVar(func(c *Config) *bool { return &c.SkipTLSVerify })},
	{"USERNAME", stringVar(func(c *Config) *string { return &c.Username })},
	{"PASSWORD", stringVar(func(c *Config) *string { return &c.Password })},
	{"KERBEROS_REALM", stringVar(func(c *Config) *string { return &c.KerberosRealm })},
	{"KERBEROS_CONFIG", stringVar(func(c *Config) *string { return &c.KerberosConfig })},
	{"KERBEROS_KEYTAB", stringVar(func(c *Config) *string { return &c.KerberosKeytab })},
	{"KERBEROS_CCACHE", stringVar(func(c *Config) *string { return &c.KerberosCCache })},
	{"PAGE_SIZE", intVar(func(c *Config) *int { return &c.PageSize })},
	{"PULL_MAX_ELEMENTS", intVar(func(c *Config) *int { return &c.PullMaxElements })},
	{"TIMEOUT", func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		c.Timeout = d
		return nil
	}},
	{"MAX_RETRIES", intVar(func(c *Config) *int { return &c.MaxRetries })},
	{"DNS_SUFFIXES", func(c *Config, v string) error {
		c.DNSSuffixes = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.DNSSuffixes = append(c.DNSSuffixes, s)
			}
		}
		return nil
	}},
	{"OU_SPLIT_DEPTH", intVar(func(c *Config) *int { return &c.OUSplitDepth })},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(c, v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

// Validate checks the configuration for values no backend can use.
func (c *Config) Validate() error {
	var errs []error

	if c.Server == "" && c.Domain == "" {
		errs = append(errs, errors.New("either server or domain must be specified"))
	}
	if _, err := directory.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.LDAPPort != 0 && !validPort(c.LDAPPort) {
		errs = append(errs, fmt.Errorf("invalid ldap_port %d", c.LDAPPort))
	}
	if !validPort(c.ADWSPort) {
		errs = append(errs, fmt.Errorf("invalid adws_port %d", c.ADWSPort))
	}
	if !validPort(c.ADWSInstance) {
		errs = append(errs, fmt.Errorf("invalid adws_instance %d", c.ADWSInstance))
	}
	if c.UseTLS && c.StartTLS {
		errs = append(errs, errors.New("use_tls and start_tls are mutually exclusive"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.PullMaxElements <= 0 || c.PullMaxElements > 10000 {
		errs = append(errs, fmt.Errorf("pull_max_elements must be between 1 and 10000, got %d", c.PullMaxElements))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries))
	}
	if c.OUSplitDepth < 0 {
		errs = append(errs, fmt.Errorf("ou_split_depth cannot be negative, got %d", c.OUSplitDepth))
	}
	if c.Password != "" && c.Username == "" {
		errs = append(errs, errors.New("password given without username"))
	}

	if err := errors.Join(errs...); err != nil {
		return directory.NewError(directory.KindInvalidInput, "", "validate config", err)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// ConnectionMode returns the parsed backend selection mode.
func (c *Config) ConnectionMode() (directory.Mode, error) {
	return directory.ParseMode(c.Mode)
}

func (c *Config) ldapPort() int {
	switch {
	case c.LDAPPort != 0:
		return c.LDAPPort
	case c.UseTLS:
		return 636
	default:
		return 389
	}
}

func (c *Config) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.SkipTLSVerify, // #nosec G402 - operator opt-in
	}
}

// LDAPConfig projects the configuration onto the LDAP backend.
func (c *Config) LDAPConfig() *adldap.ConnectionConfig {
	lc := adldap.DefaultConfig()
	lc.Domain = c.Domain
	lc.Timeout = c.Timeout
	lc.Username = c.Username
	lc.Password = c.Password
	lc.KerberosRealm = c.KerberosRealm
	lc.KerberosConfig = c.KerberosConfig
	lc.KerberosKeytab = c.KerberosKeytab
	lc.KerberosCCache = c.KerberosCCache
	lc.UseTLS = c.UseTLS || c.StartTLS
	lc.SkipTLS = !lc.UseTLS
	lc.TLSConfig = c.tlsConfig()
	lc.PageSize = c.PageSize
	lc.MaxRetries = c.MaxRetries

	if c.Server != "" {
		scheme := "ldap"
		if c.UseTLS {
			scheme = "ldaps"
		}
		lc.LDAPURLs = []string{fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Server, strconv.Itoa(c.ldapPort())))}
	}
	return lc
}

// ADWSConfig projects the configuration onto the ADWS backend.
func (c *Config) ADWSConfig() *adws.Config {
	return &adws.Config{
		Server:         c.Server,
		Domain:         c.Domain,
		Port:           c.ADWSPort,
		LDAPPort:       c.ADWSInstance,
		UseTLS:         c.UseTLS,
		SkipTLSVerify:  c.SkipTLSVerify,
		Username:       c.Username,
		Password:       c.Password,
		KerberosRealm:  c.KerberosRealm,
		KerberosConfig: c.KerberosConfig,
		KerberosKeytab: c.KerberosKeytab,
		KerberosCCache: c.KerberosCCache,
		Timeout:        c.Timeout,
		MaxElements:    c.PullMaxElements,
	}
}

// Factories returns the backend constructors for directory.Dial.
func (c *Config) Factories() directory.Factories {
	return directory.Factories{
		directory.BackendLDAP: adldap.Factory(c.LDAPConfig()),
		directory.BackendADWS: adws.Factory(c.ADWSConfig()),
	}
}
