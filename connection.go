package signalr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ConnectionState is the connection lifecycle enum.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

const maxNegotiateRedirects = 100

// Connection is the client-side connection state machine. It orchestrates
// negotiate, transport selection, and the running/stop lifecycle; it owns
// at most one Transport at a time.
type Connection struct {
	baseURL string
	opts    *options

	negotiateClient *NegotiateClient

	mu           sync.Mutex
	state        ConnectionState
	transport    Transport
	sendQueue    *sendQueue
	connectionID string
	features     TransportFeatures
	started      bool // connectionStarted: true iff this connection ever reached StateConnected
	startTask    *sync.WaitGroup
	stopErr      error

	onReceive func(payload []byte)
	onClose   func(err error)
}

// NewConnection constructs a Connection against url with the given options.
// onReceive/onClose should be assigned before calling Start so that no
// inbound frame or close is missed; both slots are read under the
// connection's mutex each time they are invoked.
func NewConnection(url string, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	negotiateHTTPClient := &http.Client{
		Transport: httpClient.Transport,
		Timeout:   o.timeout,
	}
	if o.accessTokenFactory != nil {
		negotiateHTTPClient.Transport = NewAccessTokenRoundTripper(httpClient.Transport, o.accessTokenFactory)
	}

	return &Connection{
		baseURL:         url,
		opts:            o,
		negotiateClient: NewNegotiateClient(negotiateHTTPClient, "", o.headers, o.useStatefulReconnect, o.logger),
	}
}

// SetReceiveHandler installs the callback invoked once per inbound hub
// frame, in network delivery order.
func (c *Connection) SetReceiveHandler(f func(payload []byte)) {
	c.mu.Lock()
	c.onReceive = f
	c.mu.Unlock()
}

// SetCloseHandler installs the callback invoked at most once per successful
// Start, only for connections that reached StateConnected.
func (c *Connection) SetCloseHandler(f func(err error)) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins the negotiate → transport-selection → running sequence. It
// blocks until the connection reaches StateConnected or fails.
func (c *Connection) Start(ctx context.Context, format TransferFormat) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.state = StateConnecting
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.startTask = wg
	default:
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()

	err := c.runStart(ctx, format)

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		c.transport = nil
	} else {
		c.state = StateConnected
		c.started = true
	}
	wg := c.startTask
	c.mu.Unlock()
	wg.Done()

	return err
}

// isStopping reports whether the caller has requested stop, used by the
// start algorithm to abort cooperatively after each awaited subtask.
func (c *Connection) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisconnecting
}

func (c *Connection) runStart(ctx context.Context, format TransferFormat) error {
	if c.opts.skipNegotiation {
		if c.opts.transport != TransportWebSockets {
			return ErrInvalidState
		}
		return c.connectWithTransport(ctx, TransportWebSockets, c.baseURL, "", format, c.opts.accessTokenFactory)
	}

	currentURL := c.baseURL
	var tokenFactory AccessTokenFactory = c.opts.accessTokenFactory
	var lastNegotiate *NegotiateResponse
	redirects := 0

	for {
		if c.isStopping() {
			return ErrCancelled
		}

		resp, err := c.buildNegotiateClient(tokenFactory).Negotiate(ctx, currentURL)
		if err != nil {
			return err
		}

		if c.isStopping() {
			return ErrCancelled
		}

		if resp.AccessToken != "" {
			tokenFactory = constantAccessTokenFactory(resp.AccessToken)
		}
		lastNegotiate = resp

		if resp.URL == "" {
			break
		}

		redirects++
		if redirects >= maxNegotiateRedirects {
			return ErrRedirectLimit
		}
		currentURL = resp.URL
	}

	connectURL, err := buildConnectURL(currentURL, lastNegotiate.ConnectionToken)
	if err != nil {
		return err
	}

	return c.selectAndConnect(ctx, lastNegotiate, connectURL, format, tokenFactory, lastNegotiate.ConnectionID)
}

// buildNegotiateClient returns the negotiate client to use for the next
// negotiate round trip. The base client (already carrying any
// caller-configured transport and timeout) is reused as-is when no access
// token factory is in play; whenever a factory is present (the configured
// one, or one built from a negotiate response's accessToken) a fresh
// accessTokenRoundTripper around it is built for this round trip.
func (c *Connection) buildNegotiateClient(factory AccessTokenFactory) *NegotiateClient {
	if factory == nil {
		return c.negotiateClient
	}
	httpClient := c.opts.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	wrapped := &http.Client{
		Transport: NewAccessTokenRoundTripper(httpClient.Transport, factory),
		Timeout:   c.opts.timeout,
	}
	return NewNegotiateClient(wrapped, "", c.opts.headers, c.opts.useStatefulReconnect, c.opts.logger)
}

// selectAndConnect implements step 4-6 of the start algorithm: it tries
// each server-offered transport in order, constructing and connecting the
// first one that the client accepts and that starts successfully.
func (c *Connection) selectAndConnect(ctx context.Context, negotiated *NegotiateResponse, connectURL string, format TransferFormat, tokenFactory AccessTokenFactory, connectionID string) error {
	var errs []error

	for _, avail := range negotiated.AvailableTransports {
		if c.isStopping() {
			return ErrCancelled
		}

		transportType, known := transportTypeFromName(avail.Transport)
		if !known {
			errs = append(errs, fmt.Errorf("'%s' is not a recognized transport", avail.Transport))
			continue
		}
		if !c.opts.transport.has(transportType) {
			errs = append(errs, fmt.Errorf("'%s' is disabled by the client", avail.Transport))
			continue
		}
		if !transportSupportsFormat(avail.TransferFormats, format) {
			errs = append(errs, fmt.Errorf("'%s' does not support the '%s' transfer format", avail.Transport, format))
			continue
		}

		err := c.connectWithTransport(ctx, transportType, connectURL, connectionID, format, tokenFactory)
		if err == nil {
			return nil
		}
		if c.isStopping() {
			return ErrCancelled
		}
		errs = append(errs, fmt.Errorf("%s: %w", avail.Transport, err))
	}

	return &NoTransportAvailableError{Errors: errs}
}

// transportSupportsFormat matches a server-advertised list of transfer
// format names against format, case-insensitively.
func transportSupportsFormat(formats []string, format TransferFormat) bool {
	want := format.String()
	for _, f := range formats {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// connectWithTransport constructs the concrete transport for transportType,
// wires its receive/close callbacks, and attempts to connect. On success it
// installs the transport and starts the send queue; on failure the
// unconnected transport is simply discarded.
func (c *Connection) connectWithTransport(ctx context.Context, transportType TransportType, connectURL, connectionID string, format TransferFormat, tokenFactory AccessTokenFactory) error {
	t := c.buildTransport(transportType, tokenFactory)
	features := t.Features()
	features.Reconnect = transportType == TransportWebSockets && c.opts.useStatefulReconnect

	t.SetReceiveHandler(func(payload []byte) {
		c.mu.Lock()
		handler := c.onReceive
		c.mu.Unlock()
		if handler != nil {
			handler(payload)
		}
	})
	t.SetCloseHandler(func(err error) {
		c.stopConnection(err)
	})

	if err := t.Connect(ctx, connectURL, format); err != nil {
		return err
	}

	c.mu.Lock()
	c.transport = t
	c.connectionID = connectionID
	c.mu.Unlock()
	c.sendQueue = newSendQueue(t, c.opts.logger)

	c.opts.logger.Info().Str("transport", transportType.String()).Str("connectionId", connectionID).Msg("connection established")
	return nil
}

func (c *Connection) buildTransport(transportType TransportType, tokenFactory AccessTokenFactory) Transport {
	var tokenFn func(ctx context.Context) (string, error)
	if tokenFactory != nil {
		tokenFn = func(ctx context.Context) (string, error) { return tokenFactory(ctx) }
	}

	switch transportType {
	case TransportServerSentEvents:
		return NewSSETransport(c.opts.httpClient, c.opts.headers, tokenFn, c.opts.logger, c.opts.logMessageContent)
	case TransportLongPolling:
		return NewLongPollingTransport(c.opts.httpClient, c.opts.headers, tokenFn, c.opts.logger, c.opts.logMessageContent)
	default:
		return NewWebSocketTransport(c.opts.headers, tokenFn, c.opts.logger, c.opts.logMessageContent)
	}
}

// Send enqueues payload onto the send queue, returning once it has reached
// the transport (or the queue rejects it). payload must already be a
// complete, protocol-framed message.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	state := c.state
	q := c.sendQueue
	c.mu.Unlock()

	if state != StateConnected || q == nil {
		return ErrInvalidState
	}
	return q.Send(ctx, payload)
}

// Stop implements the stop algorithm: it captures the caller's optional
// error, awaits any in-flight start task, stops the transport if one
// exists, and drives stopConnection.
func (c *Connection) Stop(stopError error) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateDisconnecting:
		// Another caller is already stopping; await it below.
	default:
		c.state = StateDisconnecting
	}
	wg := c.startTask
	c.stopErr = stopError
	c.mu.Unlock()

	if wg != nil {
		wg.Wait()
	}

	// Re-read the transport only after any in-flight start has fully
	// committed its result: capturing it earlier could race a concurrent
	// successful Start and miss stopping the transport it just installed.
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	var transportErr error
	if transport != nil {
		transportErr = transport.Stop()
	}

	c.stopConnection(transportErr)
	return nil
}

// stopConnection is the shared entry point for both caller-initiated stop
// and transport-detected close. It is idempotent, skips the transition
// while a start attempt is still in flight (the start path owns that
// transition), and fires on_close exactly once for connections that ever
// reached Connected.
func (c *Connection) stopConnection(transportErr error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting {
		// The start path is responsible for the Connecting -> Disconnected
		// transition; re-entering here would race it.
		c.opts.logger.Debug().Msg("stopConnection called while still connecting, deferring to start path")
		c.mu.Unlock()
		return
	}

	finalErr := c.stopErr
	if finalErr == nil {
		finalErr = transportErr
	}

	c.transport = nil
	if c.sendQueue != nil {
		c.sendQueue.Stop()
		c.sendQueue = nil
	}
	c.state = StateDisconnected
	started := c.started
	handler := c.onClose
	c.mu.Unlock()

	c.opts.logger.Info().Err(finalErr).Msg("connection stopped")

	if started && handler != nil {
		handler(finalErr)
	}
}

// ConnectionID returns the server-assigned connection identifier from the
// most recent successful negotiate, or "" before Start succeeds.
func (c *Connection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}
