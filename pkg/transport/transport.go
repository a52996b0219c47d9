// Package transport implements the authenticated HTTP transport used to talk
// to the update server: proxy-aware, TLS-verified, streaming in both
// directions, with bearer-token injection and one-shot re-authentication on
// 401. See SPEC_FULL.md §4.B.
//
// The underlying round-tripper is net/http's http.Transport: no example
// repository in the corpus builds a custom proxying/resuming HTTP client, so
// this is the one ambient concern implemented directly on the standard
// library (recorded in DESIGN.md), configured with the same TLS idiom the
// rest of the module uses (pkg/tlsutil, grounded on pkg/security/certs.go).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
	"github.com/mendersoftware/mender-sub000/pkg/tlsutil"
)

// Config configures a Transport. Fields mirror pkg/config.Config's
// transport-relevant settings directly.
type Config struct {
	HTTPProxy        string
	HTTPSProxy       string
	NoProxy          string
	DisableKeepAlive bool
	TLS              tlsutil.Options
}

// Authenticator supplies and refreshes the bearer token used on every
// request. Token is called once per request to obtain the current token;
// ReAuthenticate is called at most once per request, only after a 401.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
	ReAuthenticate(ctx context.Context) (string, error)
}

// Transport issues HTTP(S) requests with proxy, TLS, and bearer-token
// handling. At most one outstanding call is expected per Transport instance,
// matching the scheduler's single-threaded discipline described in
// SPEC_FULL.md §4.G; concurrent callers must use separate instances.
type Transport struct {
	client *http.Client
	auth   Authenticator
}

// New builds a Transport from cfg. auth may be nil for unauthenticated
// requests (e.g. fetching a server certificate).
func New(cfg Config, auth Authenticator) (*Transport, error) {
	tlsConfig, err := tlsutil.Build(cfg.TLS)
	if err != nil {
		return nil, err
	}

	proxyFn, err := proxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	if err != nil {
		return nil, err
	}

	rt := &http.Transport{
		Proxy:             proxyFn,
		TLSClientConfig:   tlsConfig,
		DisableKeepAlives: cfg.DisableKeepAlive,
	}

	return &Transport{
		client: &http.Client{Transport: rt},
		auth:   auth,
	}, nil
}

// Do issues req, injecting a bearer token unless auth is nil, and retries
// exactly once after a single re-authentication attempt if the server
// responds 401. The caller owns closing resp.Body.
func (t *Transport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if t.auth != nil {
		token, err := t.auth.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || t.auth == nil {
		return resp, nil
	}
	resp.Body.Close()

	newToken, err := t.auth.ReAuthenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: re-authentication failed: %v", errkind.ErrUnauthorized, err)
	}

	retryReq, err := rewind(req)
	if err != nil {
		return nil, err
	}
	retryReq.Header.Set("Authorization", "Bearer "+newToken)

	return t.send(retryReq)
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("%w: %v", errkind.ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", errkind.ErrConnect, err)
	}
	return resp, nil
}

// rewind produces a fresh *http.Request from req, re-materializing the body
// from GetBody so a streaming request body can be replayed on retry.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// proxyFunc builds an http.Transport Proxy function honoring separate
// http/https proxies and a no_proxy host-suffix list, matching SPEC_FULL.md
// §4.B. CONNECT tunneling for HTTPS-through-proxy and absolute-URI rewriting
// for HTTP-through-proxy are both handled internally by net/http when this
// function returns a non-nil proxy URL.
func proxyFunc(httpProxy, httpsProxy, noProxy string) (func(*http.Request) (*url.URL, error), error) {
	var httpProxyURL, httpsProxyURL *url.URL
	var err error

	if httpProxy != "" {
		httpProxyURL, err = url.Parse(httpProxy)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid http_proxy: %v", errkind.ErrInvalidURL, err)
		}
	}
	if httpsProxy != "" {
		httpsProxyURL, err = url.Parse(httpsProxy)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid https_proxy: %v", errkind.ErrInvalidURL, err)
		}
	}

	noProxyHosts := splitNoProxy(noProxy)

	return func(req *http.Request) (*url.URL, error) {
		host := req.URL.Hostname()
		if matchesNoProxy(host, noProxyHosts) {
			return nil, nil
		}
		if req.URL.Scheme == "https" {
			return httpsProxyURL, nil
		}
		return httpProxyURL, nil
	}, nil
}

func splitNoProxy(noProxy string) []string {
	var hosts []string
	for _, h := range strings.Split(noProxy, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func matchesNoProxy(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if host == suffix || strings.HasSuffix(host, "."+strings.TrimPrefix(suffix, ".")) {
			return true
		}
	}
	return false
}

// DefaultDialTimeout is a 30-second timeout value. No code in this module
// references it; the transport applies no dial timeout of its own, and a
// request's only deadline is the one its ctx carries.
const DefaultDialTimeout = 30 * time.Second
