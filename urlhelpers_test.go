package signalr

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNegotiateURLAppendsPath(t *testing.T) {
	u, err := buildNegotiateURL("https://example.com/hub", false)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hub/negotiate?negotiateVersion=1", u)
}

func TestBuildNegotiateURLTrailingSlash(t *testing.T) {
	u, err := buildNegotiateURL("https://example.com/hub/", false)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hub/negotiate?negotiateVersion=1", u)
}

func TestBuildNegotiateURLPreservesExistingQuery(t *testing.T) {
	u, err := buildNegotiateURL("https://example.com/hub?tenant=a", false)
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "a", q.Get("tenant"))
	assert.Equal(t, "1", q.Get("negotiateVersion"))
}

func TestBuildNegotiateURLStatefulReconnect(t *testing.T) {
	u, err := buildNegotiateURL("https://example.com/hub", true)
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "true", parsed.Query().Get("useStatefulReconnect"))
}

func TestBuildConnectURLAppendsID(t *testing.T) {
	u, err := buildConnectURL("https://example.com/hub", "abc123")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "abc123", parsed.Query().Get("id"))
}

func TestBuildConnectURLPreservesExistingQuery(t *testing.T) {
	u, err := buildConnectURL("https://example.com/hub?tenant=a", "abc123")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "a", parsed.Query().Get("tenant"))
	assert.Equal(t, "abc123", parsed.Query().Get("id"))
}

func TestPromoteWebSocketSchemeHTTP(t *testing.T) {
	u, err := promoteWebSocketScheme("http://example.com/hub?id=C")
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com/hub?id=C", u)
}

func TestPromoteWebSocketSchemeHTTPSCaseInsensitive(t *testing.T) {
	u, err := promoteWebSocketScheme("HTTPS://example.com/hub")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/hub", u)
}

func TestPromoteWebSocketSchemeAlreadyWS(t *testing.T) {
	u, err := promoteWebSocketScheme("wss://example.com/hub")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/hub", u)
}
