package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

// performKerberosAuth performs a GSSAPI bind on an LDAP connection.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	if err := prepareKerberosConfig(cfg); err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// loadKrb5Config reads the configured krb5.conf, or generates one that
// locates KDCs through DNS when no file is available.
func loadKrb5Config(ctx context.Context, cfg *ConnectionConfig) (*krb5config.Config, error) {
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		return krb5config.Load(cfg.KerberosConfig)
	}

	if fileExists(defaultKrb5ConfPath) {
		return krb5config.Load(defaultKrb5ConfPath)
	}

	text, err := generateRuntimeKrb5Conf(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return krb5config.NewFromString(text)
}

// createGSSAPIClient wraps a Kerberos client for a GSSAPI bind.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (ldap.GSSAPIClient, error) {
	cl, err := newKrb5Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &gssapi.Client{Client: cl}, nil
}

// NewKerberosClient returns a Kerberos client for the credentials in cfg.
// cfg is not modified.
func NewKerberosClient(ctx context.Context, cfg *ConnectionConfig) (*krb5client.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	c := *cfg
	if err := prepareKerberosConfig(&c); err != nil {
		return nil, fmt.Errorf("kerberos configuration error: %w", err)
	}
	return newKrb5Client(ctx, &c)
}

// newKrb5Client picks credentials in priority order: credential cache,
// default credential cache, keytab, default keytab, password.
func newKrb5Client(ctx context.Context, cfg *ConnectionConfig) (*krb5client.Client, error) {
	krb5conf, err := loadKrb5Config(ctx, cfg)
	if err != nil {
		return nil, err
	}

	settings := krb5client.DisablePAFXFAST(true)

	fromCCache := func(path string) (*krb5client.Client, error) {
		ccache, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, err
		}
		return krb5client.NewFromCCache(ccache, krb5conf, settings)
	}

	fromKeytab := func(path string) (*krb5client.Client, error) {
		kt, err := keytab.Load(path)
		if err != nil {
			return nil, err
		}
		return krb5client.NewWithKeytab(cfg.Username, cfg.KerberosRealm, kt, krb5conf, settings), nil
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return fromCCache(cfg.KerberosCCache)
	}

	if defaultCCache := getDefaultCCachePath(); fileExists(defaultCCache) {
		tflog.SubsystemDebug(ctx, logSubsystem, "Using default credential cache", map[string]any{
			"path": defaultCCache,
		})
		return fromCCache(defaultCCache)
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return fromKeytab(cfg.KerberosKeytab)
	}

	if cfg.Username != "" {
		if defaultKeytab := getDefaultKeytabPath(); fileExists(defaultKeytab) {
			return fromKeytab(defaultKeytab)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		return krb5client.NewWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, krb5conf, settings), nil
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal constructs the LDAP service principal name.
// cfg.KerberosSPN overrides the name derived from the server host.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	hostname := serverInfo.Host
	if colonPos := strings.Index(hostname, ":"); colonPos != -1 {
		hostname = hostname[:colonPos]
	}

	return "ldap/" + hostname, nil
}

// prepareKerberosConfig validates and normalizes the Kerberos settings.
func prepareKerberosConfig(cfg *ConnectionConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	// Extract realm from a user@REALM principal.
	if strings.Contains(cfg.Username, "@") {
		parts := strings.SplitN(cfg.Username, "@", 2)
		if cfg.KerberosRealm == "" {
			cfg.KerberosRealm = parts[1]
		}
		cfg.Username = parts[0]
	}

	if cfg.KerberosRealm == "" && cfg.Domain != "" {
		cfg.KerberosRealm = strings.ToUpper(cfg.Domain)
	}

	if cfg.KerberosRealm == "" {
		return fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in username)")
	}

	hasExplicitCCache := cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache)
	hasDefaultCCache := fileExists(getDefaultCCachePath())
	hasExplicitKeytab := cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab)
	hasDefaultKeytab := cfg.Username != "" && fileExists(getDefaultKeytabPath())
	hasPassword := cfg.Username != "" && cfg.Password != ""

	if !hasExplicitCCache && !hasDefaultCCache && !hasExplicitKeytab && !hasDefaultKeytab && !hasPassword {
		return fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab, password, or ensure default credential cache/keytab exists")
	}

	return nil
}

const defaultKrb5ConfPath = "/etc/krb5.conf"

// generateRuntimeKrb5Conf builds a krb5.conf that resolves KDCs via DNS.
func generateRuntimeKrb5Conf(ctx context.Context, cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosRealm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm := strings.ToUpper(cfg.KerberosRealm)
	domain := strings.ToLower(cfg.KerberosRealm)
	if cfg.Domain != "" {
		domain = strings.ToLower(cfg.Domain)
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Generating runtime krb5.conf", map[string]any{
		"realm":  realm,
		"domain": domain,
	})

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[domain_realm]
    .%s = %s
    %s = %s
`, realm, domain, realm, domain, realm), nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if kt := os.Getenv("KRB5_KTNAME"); kt != "" {
		return strings.TrimPrefix(kt, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
