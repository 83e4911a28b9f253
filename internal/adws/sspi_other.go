//go:build !windows

package adws

import (
	"errors"
	"net/http"
)

var errSSPIUnsupported = errors.New("SSPI authentication is only available on Windows")

func newSSPITransport(http.RoundTripper) (http.RoundTripper, func() error, error) {
	return nil, nil, errSSPIUnsupported
}
