package signalr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongPollingTransportConnectDispatchesProbeBody(t *testing.T) {
	var polls int32
	var deleted int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			atomic.AddInt32(&deleted, 1)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			n := atomic.AddInt32(&polls, 1)
			if n == 1 {
				w.Write([]byte(`{"type":6}` + "\x1e"))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	tr := NewLongPollingTransport(nil, nil, nil, zerolog.Nop(), false)

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})
	var once sync.Once
	tr.SetReceiveHandler(func(payload []byte) {
		mu.Lock()
		received = payload
		mu.Unlock()
		once.Do(func() { close(done) })
	})

	require.NoError(t, tr.Connect(context.Background(), srv.URL, TransferFormatText))
	assert.True(t, tr.Features().InherentKeepAlive)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe dispatch")
	}

	mu.Lock()
	assert.Equal(t, `{"type":6}`+"\x1e", string(received))
	mu.Unlock()

	require.NoError(t, tr.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&deleted))
}

func TestLongPollingTransportConnectRejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewLongPollingTransport(nil, nil, nil, zerolog.Nop(), false)
	err := tr.Connect(context.Background(), srv.URL, TransferFormatText)
	require.Error(t, err)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, TransportHandshake, transportErr.Kind)
}

func TestLongPollingTransportSendPosts(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	tr := NewLongPollingTransport(nil, nil, nil, zerolog.Nop(), false)
	tr.SetReceiveHandler(func([]byte) {})
	require.NoError(t, tr.Connect(context.Background(), srv.URL, TransferFormatText))
	defer tr.Stop()

	require.NoError(t, tr.Send(context.Background(), []byte("payload")))
	assert.Equal(t, "payload", string(gotBody))
}
