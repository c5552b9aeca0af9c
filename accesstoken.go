package signalr

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// AccessTokenFactory asynchronously produces a bearer token. An empty
// string means "no token available".
type AccessTokenFactory func(ctx context.Context) (string, error)

// constantAccessTokenFactory returns a factory that always yields token,
// used when a negotiate response's accessToken replaces the configured
// provider for the rest of the connection's lifetime.
func constantAccessTokenFactory(token string) AccessTokenFactory {
	return func(ctx context.Context) (string, error) { return token, nil }
}

// accessTokenRoundTripper wraps an inner http.RoundTripper, attaching a
// bearer token from an AccessTokenFactory to every outgoing request and
// retrying once on a 401 that was sent without a (working) token.
//
// Concurrent callers that each observe a 401 and attempt a refresh collapse
// into a single provider invocation via singleflight, keyed on the
// roundtripper instance, so a token provider that hits a network endpoint
// is never invoked more often than necessary under concurrent load.
type accessTokenRoundTripper struct {
	inner   http.RoundTripper
	factory AccessTokenFactory
	group   *singleflight.Group
}

// NewAccessTokenRoundTripper wraps inner (defaulting to
// http.DefaultTransport) with bearer-token injection driven by factory.
// factory may be nil, in which case requests pass through unmodified.
func NewAccessTokenRoundTripper(inner http.RoundTripper, factory AccessTokenFactory) http.RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &accessTokenRoundTripper{inner: inner, factory: factory, group: &singleflight.Group{}}
}

func (rt *accessTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.factory == nil {
		return rt.inner.RoundTrip(req)
	}

	token, err := rt.fetchToken(req.Context())
	if err != nil {
		return nil, err
	}

	sentWithToken := token != ""
	if sentWithToken {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := rt.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Only refresh-and-retry when the request that drew the 401 carried no
	// token, or carried one the server has now rejected.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	refreshed, err := rt.fetchToken(req.Context())
	if err != nil {
		return nil, err
	}

	retryReq := req.Clone(req.Context())
	if refreshed != "" {
		retryReq.Header.Set("Authorization", "Bearer "+refreshed)
	} else {
		retryReq.Header.Del("Authorization")
	}

	retryResp, err := rt.inner.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}
	// A second 401 is propagated to the caller, not retried again.
	return retryResp, nil
}

func (rt *accessTokenRoundTripper) fetchToken(ctx context.Context) (string, error) {
	v, err, _ := rt.group.Do("token", func() (interface{}, error) {
		return rt.factory(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// NewAccessTokenHTTPClient returns an *http.Client that injects bearer
// tokens from factory into every request it sends, wrapping base (or
// http.DefaultTransport if base is nil).
func NewAccessTokenHTTPClient(base *http.Client, factory AccessTokenFactory) *http.Client {
	var transport http.RoundTripper
	var timeout time.Duration
	if base != nil {
		transport = base.Transport
		timeout = base.Timeout
	}
	return &http.Client{
		Transport: NewAccessTokenRoundTripper(transport, factory),
		Timeout:   timeout,
	}
}
