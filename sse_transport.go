package signalr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SSETransport implements the Server-Sent Events secondary transport. SSE
// is receive-only over its GET stream; sends go out as individual POSTs to
// the same connect URL.
type SSETransport struct {
	httpClient         *http.Client
	headers            http.Header
	accessTokenFactory func(ctx context.Context) (string, error)
	logger             zerolog.Logger
	logMessageContent  bool

	mu        sync.Mutex
	state     TransportState
	url       string
	features  TransportFeatures
	cancel    context.CancelFunc
	onReceive func(payload []byte)
	onClose   func(err error)
	closeOnce sync.Once
	done      chan struct{}
}

// NewSSETransport constructs an SSE transport. Only TransferFormatText is
// supported; SSE cannot carry binary payloads.
func NewSSETransport(httpClient *http.Client, headers http.Header, accessTokenFactory func(ctx context.Context) (string, error), logger zerolog.Logger, logMessageContent bool) *SSETransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &SSETransport{
		httpClient:         httpClient,
		headers:            headers,
		accessTokenFactory: accessTokenFactory,
		logger:             logger,
		logMessageContent:  logMessageContent,
		state:              TransportStateConnecting,
		done:               make(chan struct{}),
	}
}

func (t *SSETransport) Features() *TransportFeatures {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.features
}

func (t *SSETransport) SetReceiveHandler(f func(payload []byte)) {
	t.mu.Lock()
	t.onReceive = f
	t.mu.Unlock()
}

func (t *SSETransport) SetCloseHandler(f func(err error)) {
	t.mu.Lock()
	t.onClose = f
	t.mu.Unlock()
}

func (t *SSETransport) authorizedRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.accessTokenFactory != nil {
		token, err := t.accessTokenFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// Connect implements Transport. It opens the SSE GET stream and resolves
// once the response headers confirm a 200, then dispatches frames from a
// background read loop.
func (t *SSETransport) Connect(ctx context.Context, url string, format TransferFormat) error {
	if format != TransferFormatText {
		return &TransportError{Kind: TransportHandshake, Err: fmt.Errorf("SSE transport only supports the Text transfer format")}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := t.authorizedRequest(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return &TransportError{Kind: TransportHandshake, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return &TransportError{Kind: TransportHandshake, Err: fmt.Errorf("opening SSE stream: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &TransportError{Kind: TransportHandshake, Code: resp.StatusCode, Err: fmt.Errorf("SSE endpoint returned status %d", resp.StatusCode)}
	}

	t.mu.Lock()
	t.url = url
	t.state = TransportStateOpen
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info().Str("url", url).Msg("sse transport open")

	go t.readLoop(resp.Body)
	return nil
}

// readLoop consumes "data: <payload>\n\n" frames from the SSE stream. Each
// data block carries one JSON hub message with no record separator of its
// own, so writeFrame appends one before handing the payload to the receive
// handler, matching the framing every other transport produces.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data.WriteString(strings.TrimPrefix(value, " "))
		case line == "":
			if data.Len() > 0 {
				payload := writeFrame(data.Bytes())
				if t.logMessageContent {
					t.logger.Debug().Str("payload", string(data.Bytes())).Msg("sse transport received message")
				}
				t.mu.Lock()
				handler := t.onReceive
				t.mu.Unlock()
				if handler != nil {
					handler(payload)
				}
				data.Reset()
			}
		default:
			// ignore event:/id:/comment lines, this transport only needs data:
		}
	}

	err := scanner.Err()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil // caller-initiated Stop, not a transport failure
	}
	t.finishClose(err)
}

func (t *SSETransport) finishClose(err error) {
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

// Send implements Transport as a POST to the connect URL; SSE has no
// client-to-server channel of its own.
func (t *SSETransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if t.state != TransportStateOpen {
		t.mu.Unlock()
		return &TransportError{Kind: TransportNotOpen, Err: ErrTransportNotOpen}
	}
	url := t.url
	t.mu.Unlock()

	req, err := t.authorizedRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting sse message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sse send returned status %d", resp.StatusCode)
	}
	return nil
}

// Stop implements Transport: cancels the GET stream's context, letting the
// read loop observe the cancellation and close.
func (t *SSETransport) Stop() error {
	t.mu.Lock()
	if t.state == TransportStateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = TransportStateClosing
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		t.finishClose(nil)
	}
	<-t.done
	return nil
}
