package adapter

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"routerctl/internal/domain"
)

const userAgent = "routerctl/1.0"

// newRESTClient creates the HTTP client for one session. Routers almost
// always present self-signed certificates, so verification is disabled.
// The client keeps a cookie jar for cookie-authenticated vendors.
func newRESTClient(opts Options) *resty.Client {
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		//nolint:gosec // Consumer routers ship self-signed certificates.
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12})
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	return client
}

// hostURL builds scheme://host[:port]. An explicit port in address wins
// over defaultPort; defaultPort 0 means the scheme default.
func hostURL(scheme, address string, defaultPort int) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = strings.Trim(address, "[]")
		if defaultPort != 0 {
			port = strconv.Itoa(defaultPort)
		}
	}
	if port == "" {
		if strings.Contains(host, ":") {
			return fmt.Sprintf("%s://[%s]", scheme, host)
		}
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, port))
}

// transportError classifies a request error. Every error returned by
// resty before a response exists is a transport fault.
func transportError(address string, err error) error {
	return domain.WrapError(domain.KindUnreachable, err, "cannot reach router at %s", address)
}

// statusError classifies a non-success HTTP status. Nil for 2xx.
func statusError(resp *resty.Response, what string) error {
	if resp.IsSuccess() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewError(domain.KindAuthenticationFailed, "%s rejected with HTTP %d", what, resp.StatusCode())
	default:
		return domain.NewError(domain.KindRemote, "%s failed with HTTP %d", what, resp.StatusCode())
	}
}

// unsupported reports an operation the vendor API does not reliably expose
func unsupported(vendor Vendor, op string) error {
	return domain.NewError(domain.KindUnsupportedOperation, "%s is not supported by the %s adapter", op, vendor)
}
