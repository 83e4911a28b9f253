package ldap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateKerberosDefaults points the default credential cache and keytab at
// missing files so the host environment cannot satisfy credential checks.
func isolateKerberosDefaults(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KRB5CCNAME", "FILE:"+filepath.Join(dir, "missing-ccache"))
	t.Setenv("KRB5_KTNAME", filepath.Join(dir, "missing-keytab"))
}

func touch(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

func TestConnectionConfig_GetAuthMethod(t *testing.T) {
	tests := []struct {
		name     string
		config   *ConnectionConfig
		expected AuthMethod
	}{
		{
			name:     "simple bind with username and password",
			config:   &ConnectionConfig{Username: "testuser", Password: "testpass"},
			expected: AuthMethodSimpleBind,
		},
		{
			name:     "kerberos with realm and keytab",
			config:   &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/path/to/keytab"},
			expected: AuthMethodKerberos,
		},
		{
			name:     "kerberos with realm and ccache",
			config:   &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", KerberosCCache: "/tmp/krb5cc_1000"},
			expected: AuthMethodKerberos,
		},
		{
			name:     "kerberos takes precedence over password",
			config:   &ConnectionConfig{Username: "testuser", Password: "testpass", KerberosRealm: "EXAMPLE.COM"},
			expected: AuthMethodKerberos,
		},
		{
			name:     "realm without credentials",
			config:   &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"},
			expected: AuthMethodAnonymous,
		},
		{
			name:     "empty config is anonymous",
			config:   &ConnectionConfig{},
			expected: AuthMethodAnonymous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetAuthMethod(); got != tt.expected {
				t.Errorf("GetAuthMethod() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestAuthMethod_String(t *testing.T) {
	assert.Equal(t, "anonymous", AuthMethodAnonymous.String())
	assert.Equal(t, "simple", AuthMethodSimpleBind.String())
	assert.Equal(t, "kerberos", AuthMethodKerberos.String())
	assert.Equal(t, "unknown", AuthMethod(99).String())
}

func TestPrepareKerberosConfig(t *testing.T) {
	isolateKerberosDefaults(t)
	keytab := touch(t, filepath.Join(t.TempDir(), "test.keytab"))

	tests := []struct {
		name      string
		config    *ConnectionConfig
		errorMsg  string
		wantUser  string
		wantRealm string
	}{
		{
			name:     "nil config",
			errorMsg: "configuration cannot be nil",
		},
		{
			name:      "keytab",
			config:    &ConnectionConfig{Username: "svc", KerberosRealm: "EXAMPLE.COM", KerberosKeytab: keytab},
			wantUser:  "svc",
			wantRealm: "EXAMPLE.COM",
		},
		{
			name:      "password",
			config:    &ConnectionConfig{Username: "svc", Password: "secret", KerberosRealm: "EXAMPLE.COM"},
			wantUser:  "svc",
			wantRealm: "EXAMPLE.COM",
		},
		{
			name:      "realm from principal",
			config:    &ConnectionConfig{Username: "svc@CORP.EXAMPLE.COM", KerberosKeytab: keytab},
			wantUser:  "svc",
			wantRealm: "CORP.EXAMPLE.COM",
		},
		{
			name:      "explicit realm wins over principal",
			config:    &ConnectionConfig{Username: "svc@OTHER.COM", Password: "secret", KerberosRealm: "EXAMPLE.COM"},
			wantUser:  "svc",
			wantRealm: "EXAMPLE.COM",
		},
		{
			name:      "realm from domain",
			config:    &ConnectionConfig{Username: "svc", Password: "secret", Domain: "corp.example.com"},
			wantUser:  "svc",
			wantRealm: "CORP.EXAMPLE.COM",
		},
		{
			name:     "no realm",
			config:   &ConnectionConfig{Username: "svc", Password: "secret"},
			errorMsg: "kerberos realm is required",
		},
		{
			name:     "no credentials",
			config:   &ConnectionConfig{Username: "svc", KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/nonexistent/keytab"},
			errorMsg: "no suitable Kerberos credentials found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := prepareKerberosConfig(tt.config)
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, tt.config.Username)
			assert.Equal(t, tt.wantRealm, tt.config.KerberosRealm)
		})
	}
}

func TestBuildServicePrincipal(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *ConnectionConfig
		serverInfo *ServerInfo
		expected   string
		errorMsg   string
	}{
		{
			name:       "nil config",
			serverInfo: &ServerInfo{Host: "dc1.example.com", Port: 636},
			errorMsg:   "configuration is required",
		},
		{
			name:       "SPN override",
			cfg:        &ConnectionConfig{KerberosSPN: "ldap/custom.spn.com"},
			serverInfo: &ServerInfo{Host: "192.168.1.100", Port: 636},
			expected:   "ldap/custom.spn.com",
		},
		{
			name:     "nil server info",
			cfg:      &ConnectionConfig{},
			errorMsg: "hostname is required",
		},
		{
			name:       "empty hostname",
			cfg:        &ConnectionConfig{},
			serverInfo: &ServerInfo{Port: 636},
			errorMsg:   "hostname is required",
		},
		{
			name:       "hostname",
			cfg:        &ConnectionConfig{},
			serverInfo: &ServerInfo{Host: "dc1.example.com", Port: 636},
			expected:   "ldap/dc1.example.com",
		},
		{
			name:       "hostname with port",
			cfg:        &ConnectionConfig{},
			serverInfo: &ServerInfo{Host: "dc1.example.com:636", Port: 636},
			expected:   "ldap/dc1.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := buildServicePrincipal(tt.cfg, tt.serverInfo)
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGenerateRuntimeKrb5Conf(t *testing.T) {
	t.Run("realm and domain", func(t *testing.T) {
		conf, err := generateRuntimeKrb5Conf(context.Background(), &ConnectionConfig{
			KerberosRealm: "corp.example.com",
			Domain:        "Corp.Example.com",
		})
		require.NoError(t, err)
		assert.Contains(t, conf, "default_realm = CORP.EXAMPLE.COM")
		assert.Contains(t, conf, "dns_lookup_kdc = true")
		assert.Contains(t, conf, ".corp.example.com = CORP.EXAMPLE.COM")
	})

	t.Run("missing realm", func(t *testing.T) {
		_, err := generateRuntimeKrb5Conf(context.Background(), &ConnectionConfig{})
		assert.ErrorContains(t, err, "kerberos realm is required")
	})
}

func TestLoadKrb5Config_Generated(t *testing.T) {
	if fileExists(defaultKrb5ConfPath) {
		t.Skip("host has a krb5.conf")
	}

	cfg, err := loadKrb5Config(context.Background(), &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"})
	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE.COM", cfg.LibDefaults.DefaultRealm)
	assert.True(t, cfg.LibDefaults.DNSLookupKDC)
}

func TestLoadKrb5Config_MissingFile(t *testing.T) {
	_, err := loadKrb5Config(context.Background(), &ConnectionConfig{
		KerberosRealm:  "EXAMPLE.COM",
		KerberosConfig: filepath.Join(t.TempDir(), "krb5.conf"),
	})
	assert.ErrorContains(t, err, "kerberos configuration file not found")
}

func TestCreateGSSAPIClient_NoCredentials(t *testing.T) {
	isolateKerberosDefaults(t)
	conf := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(conf, []byte("[libdefaults]\n  default_realm = EXAMPLE.COM\n"), 0o600))

	_, err := createGSSAPIClient(context.Background(), &ConnectionConfig{
		KerberosRealm:  "EXAMPLE.COM",
		KerberosConfig: conf,
	})
	assert.ErrorContains(t, err, "no suitable credentials")
}

func TestCreateGSSAPIClient_Password(t *testing.T) {
	isolateKerberosDefaults(t)
	conf := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(conf, []byte("[libdefaults]\n  default_realm = EXAMPLE.COM\n"), 0o600))

	client, err := createGSSAPIClient(context.Background(), &ConnectionConfig{
		Username:       "svc",
		Password:       "secret",
		KerberosRealm:  "EXAMPLE.COM",
		KerberosConfig: conf,
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestGetDefaultPaths(t *testing.T) {
	t.Run("ccache with FILE prefix", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "FILE:/tmp/custom_ccache")
		assert.Equal(t, "/tmp/custom_ccache", getDefaultCCachePath())
	})

	t.Run("ccache default", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "")
		assert.Contains(t, getDefaultCCachePath(), "/tmp/krb5cc_")
	})

	t.Run("keytab with FILE prefix", func(t *testing.T) {
		t.Setenv("KRB5_KTNAME", "FILE:/custom/path/keytab")
		assert.Equal(t, "/custom/path/keytab", getDefaultKeytabPath())
	})

	t.Run("keytab default", func(t *testing.T) {
		t.Setenv("KRB5_KTNAME", "")
		assert.Equal(t, "/etc/krb5.keytab", getDefaultKeytabPath())
	})
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	existing := touch(t, filepath.Join(dir, "existing.txt"))

	assert.True(t, fileExists(existing))
	assert.False(t, fileExists(filepath.Join(dir, "missing.txt")))
	assert.False(t, fileExists(""))
}
