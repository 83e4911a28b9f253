//go:build windows

package adws

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/alexbrainman/sspi"
	"github.com/alexbrainman/sspi/negotiate"
)

// sspiTransport authenticates requests with the Negotiate package using
// the logon session of the current user.
type sspiTransport struct {
	base http.RoundTripper
	cred *sspi.Credentials
}

// newSSPITransport acquires a credential handle owned by the returned
// transport. The release function frees it.
func newSSPITransport(base http.RoundTripper) (http.RoundTripper, func() error, error) {
	cred, err := negotiate.AcquireCurrentUserCredentials()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire SSPI credentials: %w", err)
	}
	t := &sspiTransport{base: base, cred: cred}
	return t, cred.Release, nil
}

func (t *sspiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if _, ok := negotiateChallenge(resp); !ok {
		return resp, nil
	}
	drain(resp)

	secCtx, token, err := negotiate.NewClientContext(t.cred, "HTTP/"+hostOnly(req.URL.Host))
	if err != nil {
		return nil, fmt.Errorf("failed to create SSPI context: %w", err)
	}
	defer secCtx.Release()

	for {
		retry, err := withToken(req, token)
		if err != nil {
			return nil, err
		}
		resp, err = t.base.RoundTrip(retry)
		if err != nil {
			return nil, err
		}

		challenge, ok := negotiateChallenge(resp)
		if !ok || challenge == nil {
			return resp, nil
		}

		done, next, err := secCtx.Update(challenge)
		if err != nil {
			drain(resp)
			return nil, fmt.Errorf("SSPI update failed: %w", err)
		}
		if done || len(next) == 0 {
			return resp, nil
		}
		drain(resp)
		token = next
	}
}

// negotiateChallenge reports whether resp is a 401 Negotiate challenge and
// returns the server token it carries, if any.
func negotiateChallenge(resp *http.Response) ([]byte, bool) {
	if resp.StatusCode != http.StatusUnauthorized {
		return nil, false
	}
	for _, h := range resp.Header.Values("WWW-Authenticate") {
		if h == "Negotiate" {
			return nil, true
		}
		if rest, ok := strings.CutPrefix(h, "Negotiate "); ok {
			token, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				return nil, false
			}
			return token, true
		}
	}
	return nil, false
}

func withToken(req *http.Request, token []byte) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(token))
	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
