package signalr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTripperAttachesToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewAccessTokenHTTPClient(nil, func(ctx context.Context) (string, error) { return "tok", nil })
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestAccessTokenRoundTripperNoFactoryPassesThrough(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewAccessTokenRoundTripper(nil, nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, gotAuth)
}

func TestAccessTokenRoundTripperRefreshesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var tokenCalls int32
	factory := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&tokenCalls, 1)
		if n == 1 {
			return "stale", nil
		}
		return "fresh", nil
	}

	client := NewAccessTokenHTTPClient(nil, factory)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAccessTokenRoundTripperSecond401Propagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewAccessTokenHTTPClient(nil, func(ctx context.Context) (string, error) { return "tok", nil })
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccessTokenRoundTripperConcurrentRefreshDeduped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var tokenCalls int32
	release := make(chan struct{})
	factory := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&tokenCalls, 1)
		<-release
		return "tok", nil
	}

	client := NewAccessTokenHTTPClient(nil, factory)

	const n = 10
	var wg sync.WaitGroup
	var ready sync.WaitGroup
	ready.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready.Done()
			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			resp.Body.Close()
		}()
	}
	ready.Wait()
	close(release)
	wg.Wait()

	assert.Less(t, int(atomic.LoadInt32(&tokenCalls)), n)
}
