package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// AvailableTransport describes one entry of a negotiate response's
// availableTransports array.
type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// NegotiateResponse is the decoded body of a POST .../negotiate call.
type NegotiateResponse struct {
	ConnectionID         string               `json:"connectionId,omitempty"`
	ConnectionToken      string               `json:"connectionToken,omitempty"`
	NegotiateVersion     int                  `json:"negotiateVersion,omitempty"`
	AvailableTransports  []AvailableTransport `json:"availableTransports,omitempty"`
	URL                  string               `json:"url,omitempty"`
	AccessToken          string               `json:"accessToken,omitempty"`
	Error                string               `json:"error,omitempty"`
	UseStatefulReconnect bool                 `json:"useStatefulReconnect,omitempty"`
}

// normalize applies the version-compatibility rule: when negotiateVersion
// is missing or below 1, connectionToken falls back to connectionId.
func (r *NegotiateResponse) normalize() {
	if r.NegotiateVersion < 1 {
		r.ConnectionToken = r.ConnectionID
	}
}

// NegotiateClient performs the HTTP negotiate handshake.
type NegotiateClient struct {
	httpClient           *http.Client
	userAgent            string
	headers              http.Header
	useStatefulReconnect bool
	logger               zerolog.Logger
}

// NewNegotiateClient constructs a negotiate client. userAgent defaults to
// "SignalR-Client-Go/<version>" when empty.
func NewNegotiateClient(httpClient *http.Client, userAgent string, headers http.Header, useStatefulReconnect bool, logger zerolog.Logger) *NegotiateClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = "SignalR-Client-Go/" + ClientVersion
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &NegotiateClient{
		httpClient:           httpClient,
		userAgent:            userAgent,
		headers:              headers,
		useStatefulReconnect: useStatefulReconnect,
		logger:               logger,
	}
}

// buildNegotiateURL appends "/negotiate", negotiateVersion=1, and
// (optionally) useStatefulReconnect=true to base, preserving any existing
// query string.
func buildNegotiateURL(base string, useStatefulReconnect bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("signalr: parsing negotiate base url: %w", err)
	}

	if strings.HasSuffix(u.Path, "/") {
		u.Path += "negotiate"
	} else {
		u.Path += "/negotiate"
	}

	q := u.Query()
	q.Set("negotiateVersion", "1")
	if useStatefulReconnect {
		q.Set("useStatefulReconnect", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// buildConnectURL appends "id=<connectionToken>" to base, preserving any
// existing query parameters.
func buildConnectURL(base, connectionToken string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("signalr: parsing connect url: %w", err)
	}
	q := u.Query()
	q.Set("id", connectionToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Negotiate performs one negotiate round trip against baseURL, applying the
// version-compatibility normalization and the statefulReconnect mismatch
// check.
func (c *NegotiateClient) Negotiate(ctx context.Context, baseURL string) (*NegotiateResponse, error) {
	negotiateURL, err := buildNegotiateURL(baseURL, c.useStatefulReconnect)
	if err != nil {
		return nil, &NegotiateError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL, nil)
	if err != nil {
		return nil, &NegotiateError{Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Set(k, v) // caller headers override the default User-Agent
		}
	}

	c.logger.Debug().Str("url", negotiateURL).Msg("negotiate request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NegotiateError{Err: fmt.Errorf("performing negotiate request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		hint := ""
		if resp.StatusCode == http.StatusNotFound {
			hint = "not a SignalR endpoint or a proxy is blocking"
		}
		return nil, &NegotiateError{StatusCode: resp.StatusCode, Hint: hint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NegotiateError{Err: fmt.Errorf("reading negotiate response body: %w", err)}
	}

	var nr NegotiateResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return nil, &NegotiateError{Err: fmt.Errorf("decoding negotiate response: %w", err)}
	}
	nr.normalize()

	if nr.Error != "" {
		return &nr, &NegotiateError{Err: fmt.Errorf("server returned negotiate error: %s", nr.Error)}
	}

	if nr.UseStatefulReconnect && !c.useStatefulReconnect {
		return &nr, ErrStatefulReconnectMismatch
	}

	return &nr, nil
}
