package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxConnectionPoolLimit is the maximum allowed idle connections in a pool.
const MaxConnectionPoolLimit = 100

// dialFunc opens and binds a connection to one server.
type dialFunc func(ctx context.Context, server *ServerInfo) (conn, error)

// Pool hands out bound LDAP connections and keeps idle ones for reuse.
type Pool struct {
	config  *ConnectionConfig
	servers []*ServerInfo
	idle    chan *PooledConnection
	dial    dialFunc
	mu      sync.RWMutex
	closed  bool

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewPool validates config, resolves the server list and returns an empty
// pool. Connections are opened on first use.
func NewPool(ctx context.Context, config *ConnectionConfig) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	servers, err := resolveServers(ctx, config, NewSRVDiscovery(nil))
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	p := newPool(config, servers, nil)
	p.dial = p.dialServer
	return p, nil
}

func newPool(config *ConnectionConfig, servers []*ServerInfo, dial dialFunc) *Pool {
	return &Pool{
		config:    config,
		servers:   servers,
		idle:      make(chan *PooledConnection, config.MaxConnections),
		dial:      dial,
		startTime: time.Now(),
	}
}

// resolveServers turns configured URLs, or SRV records for the domain, into
// an ordered server list.
func resolveServers(ctx context.Context, config *ConnectionConfig, discovery *SRVDiscovery) ([]*ServerInfo, error) {
	var servers []*ServerInfo

	switch {
	case len(config.LDAPURLs) > 0:
		for _, u := range config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
	case config.Domain != "":
		ctx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()

		discovered, err := discovery.DiscoverServers(ctx, config.Domain, config.UseTLS && !config.SkipTLS)
		if err != nil {
			return nil, err
		}
		servers = discovered
	default:
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Resolved LDAP servers", map[string]any{
		"server_count": len(servers),
		"first":        ServerInfoToURL(servers[0]),
	})
	return servers, nil
}

// Get retrieves an idle connection or opens a new one.
func (p *Pool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errors.New("connection pool is closed")
	}

	for {
		select {
		case pc, ok := <-p.idle:
			if !ok {
				return nil, errors.New("connection pool is closed")
			}
			if p.isConnectionHealthy(pc) {
				pc.lastUsed = time.Now()
				atomic.AddInt64(&p.activeConns, 1)
				return pc, nil
			}
			p.closeConnection(pc)
			continue
		default:
		}
		break
	}

	return p.createConnection(ctx)
}

// createConnection opens a connection with retry and exponential backoff.
func (p *Pool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			c, err := p.dial(ctx, server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				tflog.SubsystemDebug(ctx, logSubsystem, "Connection attempt failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				if !isRetryable(err) {
					return nil, err
				}
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return &PooledConnection{
				conn:         c,
				lastUsed:     time.Now(),
				healthy:      true,
				serverInfo:   server,
				returnToPool: p.returnConnection,
			}, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, fmt.Errorf("failed to create connection after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// dialServer connects to one server, upgrades to TLS as configured and binds.
func (p *Pool) dialServer(ctx context.Context, server *ServerInfo) (conn, error) {
	url := ServerInfoToURL(server)
	dialer := &net.Dialer{Timeout: p.config.Timeout}

	var c *ldap.Conn
	var err error
	if server.UseTLS {
		c, err = ldap.DialURL(url, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(p.tlsConfig(server)))
	} else {
		c, err = ldap.DialURL(url, ldap.DialWithDialer(dialer))
		if err == nil && p.config.UseTLS && !p.config.SkipTLS {
			if err = c.StartTLS(p.tlsConfig(server)); err != nil {
				c.Close()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c.SetTimeout(p.config.Timeout)

	if err := p.authenticate(ctx, c, server); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to authenticate to %s: %w", url, err)
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Opened LDAP connection", map[string]any{
		"server": url,
		"auth":   p.config.GetAuthMethod().String(),
	})
	return c, nil
}

func (p *Pool) tlsConfig(server *ServerInfo) *tls.Config {
	var tc *tls.Config
	if p.config.TLSConfig != nil {
		tc = p.config.TLSConfig.Clone()
	} else {
		tc = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tc.ServerName == "" {
		tc.ServerName = server.Host
	}
	return tc
}

// authenticate binds a fresh connection with the configured method.
func (p *Pool) authenticate(ctx context.Context, c *ldap.Conn, server *ServerInfo) error {
	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		return c.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		cfg := *p.config
		return performKerberosAuth(ctx, c, &cfg, server)
	case AuthMethodAnonymous:
		return nil
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}
}

// returnConnection returns a connection to the pool.
func (p *Pool) returnConnection(pc *PooledConnection) {
	if pc == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(pc) {
		p.closeConnection(pc)
		return
	}

	pc.lastUsed = time.Now()
	select {
	case p.idle <- pc:
	default:
		p.closeConnection(pc)
	}
}

// isConnectionHealthy checks if a connection is usable.
func (p *Pool) isConnectionHealthy(pc *PooledConnection) bool {
	if pc == nil || pc.conn == nil || !pc.healthy || pc.conn.IsClosing() {
		return false
	}
	return time.Since(pc.lastUsed) <= p.config.MaxIdleTime
}

// closeConnection closes a pooled connection.
func (p *Pool) closeConnection(pc *PooledConnection) {
	if pc != nil && pc.conn != nil {
		_ = pc.conn.Close()
		pc.healthy = false
	}
}

// Close closes all idle connections and shuts down the pool. Connections
// still handed out are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.idle)
	for pc := range p.idle {
		p.closeConnection(pc)
	}
	return nil
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Idle:    len(p.idle),
		Active:  atomic.LoadInt64(&p.activeConns),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}

	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.PageSize <= 0 {
		return errors.New("PageSize must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}

// Release returns the connection to its pool.
func (pc *PooledConnection) Release() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// markBroken stops the connection from being reused.
func (pc *PooledConnection) markBroken() {
	pc.healthy = false
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}
