package signalr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// longPollTimeout bounds how long a single poll GET may block server-side
// before the transport treats it as a tick and issues the next one.
const longPollTimeout = 90 * time.Second

// LongPollingTransport implements the long-polling secondary transport.
// There is no persistent socket: each receive is one GET, each send is one
// POST, batching already happened upstream in the send queue.
type LongPollingTransport struct {
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

// NewLongPollingTransport constructs a long-polling transport.
func NewLongPollingTransport(httpClient *http.Client, headers http.Header, accessTokenFactory func(ctx context.Context) (string, error), logger zerolog.Logger, logMessageContent bool) *LongPollingTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &LongPollingTransport{
		httpClient:         httpClient,
		headers:            headers,
		accessTokenFactory: accessTokenFactory,
		logger:             logger,
		logMessageContent:  logMessageContent,
		state:              TransportStateConnecting,
		done:               make(chan struct{}),
	}
}

func (t *LongPollingTransport) Features() *TransportFeatures {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.features
}

func (t *LongPollingTransport) SetReceiveHandler(f func(payload []byte)) {
	t.mu.Lock()
	t.onReceive = f
	t.mu.Unlock()
}

func (t *LongPollingTransport) SetCloseHandler(f func(err error)) {
	t.mu.Lock()
	t.onClose = f
	t.mu.Unlock()
}

func (t *LongPollingTransport) authorizedRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
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

// Connect implements Transport: issues one initial poll to confirm the
// endpoint is reachable, then starts the background poll loop.
func (t *LongPollingTransport) Connect(ctx context.Context, url string, format TransferFormat) error {
	probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
	defer probeCancel()

	req, err := t.authorizedRequest(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{Kind: TransportHandshake, Err: err}
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &TransportError{Kind: TransportHandshake, Err: fmt.Errorf("initial long-poll probe: %w", err)}
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &TransportError{Kind: TransportHandshake, Code: resp.StatusCode, Err: fmt.Errorf("long-poll endpoint returned status %d", resp.StatusCode)}
	}
	if readErr != nil {
		return &TransportError{Kind: TransportHandshake, Err: readErr}
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.url = url
	t.state = TransportStateOpen
	t.cancel = cancel
	t.features.InherentKeepAlive = true
	t.mu.Unlock()

	t.logger.Info().Str("url", url).Msg("long polling transport open")

	if len(body) > 0 {
		t.dispatch(body)
	}

	go t.pollLoop(pollCtx)
	return nil
}

func (t *LongPollingTransport) dispatch(body []byte) {
	frames, err := parseFrames(body)
	if err != nil {
		// A malformed poll body is logged and dropped; it does not close
		// the long-lived polling loop.
		t.logger.Warn().Err(err).Msg("long polling transport received malformed frame body")
		return
	}
	t.mu.Lock()
	handler := t.onReceive
	logContent := t.logMessageContent
	t.mu.Unlock()
	if handler == nil {
		return
	}
	for _, frame := range frames {
		if logContent {
			t.logger.Debug().Str("payload", string(frame)).Msg("long polling transport received message")
		}
		handler(writeFrame(frame))
	}
}

func (t *LongPollingTransport) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.finishClose(nil)
			return
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, longPollTimeout)
		req, err := t.authorizedRequest(pollCtx, http.MethodGet, t.currentURL(), nil)
		if err != nil {
			cancel()
			t.finishClose(&TransportError{Kind: TransportClosed, Err: err})
			return
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				t.finishClose(nil)
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue // the poll outlived longPollTimeout: an empty tick
			}
			t.finishClose(&TransportError{Kind: TransportClosed, Err: fmt.Errorf("long-poll request: %w", err)})
			return
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		switch {
		case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusOK && len(body) == 0:
			continue // empty tick, not a close
		case resp.StatusCode != http.StatusOK:
			t.finishClose(&TransportError{Kind: TransportClosed, Code: resp.StatusCode, Err: fmt.Errorf("long-poll returned status %d", resp.StatusCode)})
			return
		case readErr != nil:
			t.finishClose(&TransportError{Kind: TransportClosed, Err: readErr})
			return
		default:
			t.dispatch(body)
		}
	}
}

func (t *LongPollingTransport) currentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *LongPollingTransport) finishClose(err error) {
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

// Send implements Transport as a single POST per call; the send queue has
// already coalesced buffered frames into one batch upstream.
func (t *LongPollingTransport) Send(ctx context.Context, payload []byte) error {
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
		return fmt.Errorf("posting long-poll message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("long-poll send returned status %d", resp.StatusCode)
	}
	return nil
}

// Stop implements Transport: cancels the poll loop and issues a best-effort
// DELETE to let the server release connection state promptly.
func (t *LongPollingTransport) Stop() error {
	t.mu.Lock()
	if t.state == TransportStateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = TransportStateClosing
	cancel := t.cancel
	url := t.url
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		t.finishClose(nil)
	}
	<-t.done

	if url != "" {
		deleteCtx, deleteCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer deleteCancel()
		if req, err := t.authorizedRequest(deleteCtx, http.MethodDelete, url, nil); err == nil {
			if resp, err := t.httpClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	return nil
}
