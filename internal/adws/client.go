package adws

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/isometry/adscan/internal/directory"
	adldap "github.com/isometry/adscan/internal/ldap"
)

const maxResponseSize = 64 << 20

// doer sends an HTTP request. *http.Client and *spnego.Client satisfy it.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// client speaks SOAP to one web service endpoint over its own HTTP
// transport.
type client struct {
	config    *Config
	host      string
	baseURL   string
	instance  string
	auth      authMethod
	user      string // NTLM user, DOMAIN\user form
	http      doer
	transport *http.Transport
	closers   []func() error
}

// newClient builds a client with a fresh transport and credentials for host.
func newClient(ctx context.Context, cfg *Config, host string) (*client, error) {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig(cfg, host),
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &client{
		config:    cfg,
		host:      host,
		baseURL:   scheme + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		instance:  "ldap:" + strconv.Itoa(cfg.LDAPPort),
		auth:      cfg.authMethod(),
		transport: transport,
	}

	switch c.auth {
	case authNTLM:
		c.user = ntlmUser(cfg.Domain, cfg.Username)
		c.http = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: ntlmssp.Negotiator{RoundTripper: transport},
		}

	case authKerberos:
		krb, err := adldap.NewKerberosClient(ctx, &adldap.ConnectionConfig{
			Domain:         cfg.Domain,
			Username:       cfg.Username,
			Password:       cfg.Password,
			KerberosRealm:  cfg.KerberosRealm,
			KerberosConfig: cfg.KerberosConfig,
			KerberosKeytab: cfg.KerberosKeytab,
			KerberosCCache: cfg.KerberosCCache,
		})
		if err != nil {
			return nil, directory.NewError(directory.KindUnauthorized, directory.BackendADWS, "kerberos", err)
		}
		spn := cfg.KerberosSPN
		if spn == "" {
			spn = "HTTP/" + host
		}
		c.http = spnego.NewClient(krb, &http.Client{Timeout: cfg.Timeout, Transport: transport}, spn)
		c.closers = append(c.closers, func() error {
			krb.Destroy()
			return nil
		})

	default:
		rt, release, err := newSSPITransport(transport)
		if err != nil {
			tflog.SubsystemDebug(ctx, logSubsystem, "Current user credentials unavailable, continuing unauthenticated", map[string]any{
				"error": err.Error(),
			})
			c.http = &http.Client{Timeout: cfg.Timeout, Transport: transport}
			break
		}
		c.http = &http.Client{Timeout: cfg.Timeout, Transport: rt}
		c.closers = append(c.closers, release)
	}

	return c, nil
}

func tlsConfig(cfg *Config, host string) *tls.Config {
	var tc *tls.Config
	if cfg.TLSConfig != nil {
		tc = cfg.TLSConfig.Clone()
	} else {
		tc = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tc.ServerName == "" {
		tc.ServerName = host
	}
	if cfg.SkipTLSVerify {
		tc.InsecureSkipVerify = true
	}
	return tc
}

// ntlmUser qualifies a bare username with the domain.
func ntlmUser(domain, username string) string {
	if domain == "" || strings.ContainsAny(username, `\@`) {
		return username
	}
	return domain + `\` + username
}

func (c *client) enumerationURL() string { return c.baseURL + pathEnumeration }
func (c *client) resourceURL() string    { return c.baseURL + pathResource }

// call posts one SOAP message and returns the decoded response. SOAP
// faults are returned as *Fault.
func (c *client) call(ctx context.Context, r *request) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.to, bytes.NewReader(r.encode(c.instance)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	if c.auth == authNTLM {
		req.SetBasicAuth(c.user, c.config.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("SOAP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := xml.Unmarshal(body, &env)
	if decodeErr == nil {
		if f := env.fault(); f != nil {
			return nil, parseFault(f)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if decodeErr != nil {
		return nil, directory.NewError(directory.KindMalformed, directory.BackendADWS, "decode response", decodeErr)
	}
	return &env, nil
}

func (c *client) close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.transport.CloseIdleConnections()
	return errors.Join(errs...)
}
