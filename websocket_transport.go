package signalr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketTransport is the primary transport, built directly on
// github.com/gorilla/websocket.
type WebSocketTransport struct {
	headers            http.Header
	accessTokenFactory func(ctx context.Context) (string, error)
	logger             zerolog.Logger
	logMessageContent  bool

	mu       sync.Mutex
	state    TransportState
	conn     *websocket.Conn
	features TransportFeatures
	format   TransferFormat

	onReceive func(payload []byte)
	onClose   func(err error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketTransport constructs a WebSocket transport. headers are
// attached to the dial's handshake request (caller-supplied, e.g.
// per-connection headers from options); accessTokenFactory, if non-nil, is
// invoked once per connect attempt to obtain a bearer token.
func NewWebSocketTransport(headers http.Header, accessTokenFactory func(ctx context.Context) (string, error), logger zerolog.Logger, logMessageContent bool) *WebSocketTransport {
	if headers == nil {
		headers = http.Header{}
	}
	return &WebSocketTransport{
		headers:            headers,
		accessTokenFactory: accessTokenFactory,
		logger:             logger,
		logMessageContent:  logMessageContent,
		state:              TransportStateConnecting,
		done:               make(chan struct{}),
	}
}

// Features implements Transport.
func (t *WebSocketTransport) Features() *TransportFeatures {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.features
}

// SetReceiveHandler implements Transport.
func (t *WebSocketTransport) SetReceiveHandler(f func(payload []byte)) {
	t.mu.Lock()
	t.onReceive = f
	t.mu.Unlock()
}

// SetCloseHandler implements Transport.
func (t *WebSocketTransport) SetCloseHandler(f func(err error)) {
	t.mu.Lock()
	t.onClose = f
	t.mu.Unlock()
}

// promoteWebSocketScheme rewrites http/https to ws/wss, case-insensitively.
// Parsing and rewriting through net/url keeps the rest of the URL (path,
// query, userinfo) intact, which a regex substitution on the scheme prefix
// would risk mangling for unusual inputs.
func promoteWebSocketScheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("signalr: parsing websocket url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// Connect implements Transport.
func (t *WebSocketTransport) Connect(ctx context.Context, rawURL string, format TransferFormat) error {
	wsURL, err := promoteWebSocketScheme(rawURL)
	if err != nil {
		return &TransportError{Kind: TransportHandshake, Err: err}
	}

	hdr := t.headers.Clone()
	if t.accessTokenFactory != nil {
		token, err := t.accessTokenFactory(ctx)
		if err != nil {
			return &TransportError{Kind: TransportHandshake, Err: fmt.Errorf("fetching access token: %w", err)}
		}
		if token != "" {
			hdr.Set("Authorization", "Bearer "+token)
		}
	}

	t.logger.Debug().Str("url", wsURL).Msg("websocket transport dialing")

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &TransportError{Kind: TransportHandshake, Code: status, Err: fmt.Errorf("dialing websocket: %w", err)}
	}

	t.mu.Lock()
	t.conn = conn
	t.state = TransportStateOpen
	t.format = format
	t.mu.Unlock()

	t.logger.Info().Str("url", wsURL).Msg("websocket transport open")

	go t.readLoop()
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.closeWithReadErr(err)
			return
		}

		if t.logMessageContent {
			t.logger.Debug().Str("payload", string(data)).Msg("websocket transport received message")
		}

		t.mu.Lock()
		handler := t.onReceive
		t.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (t *WebSocketTransport) closeWithReadErr(readErr error) {
	var closeErr error
	if ce, ok := readErr.(*websocket.CloseError); ok {
		if ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway {
			closeErr = &TransportError{Kind: TransportClosed, Code: ce.Code, Reason: ce.Text, Err: readErr}
		}
	} else {
		closeErr = &TransportError{Kind: TransportClosed, Err: readErr}
	}
	t.finishClose(closeErr)
}

func (t *WebSocketTransport) finishClose(err error) {
	t.mu.Lock()
	t.state = TransportStateClosed
	handler := t.onClose
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		close(t.done)
		if handler != nil {
			handler(err)
		}
	})
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if t.state != TransportStateOpen {
		t.mu.Unlock()
		return &TransportError{Kind: TransportNotOpen, Err: ErrTransportNotOpen}
	}
	conn := t.conn
	format := t.format
	t.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	msgType := websocket.TextMessage
	if format == TransferFormatBinary {
		msgType = websocket.BinaryMessage
	}
	return conn.WriteMessage(msgType, payload)
}

// Stop implements Transport. It is idempotent and guarantees OnClose fires
// exactly once.
func (t *WebSocketTransport) Stop() error {
	t.mu.Lock()
	if t.state == TransportStateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = TransportStateClosing
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.finishClose(nil)
		return nil
	}

	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()

	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.finishClose(nil)
	}
	return err
}
