package signalr

import (
	"context"
	"strings"
)

// TransportType is a bitset over the transports a client may request or a
// server may offer. Zero means "no preference" (any).
type TransportType int

const (
	TransportNone             TransportType = 0
	TransportWebSockets       TransportType = 1
	TransportServerSentEvents TransportType = 2
	TransportLongPolling      TransportType = 4
)

func (t TransportType) has(one TransportType) bool { return t == TransportNone || t&one != 0 }

func (t TransportType) String() string {
	switch t {
	case TransportWebSockets:
		return "WebSockets"
	case TransportServerSentEvents:
		return "ServerSentEvents"
	case TransportLongPolling:
		return "LongPolling"
	default:
		return "Unknown"
	}
}

// transportTypeFromName maps a server-advertised transport name (from the
// negotiate response) to a TransportType, matching case-insensitively.
func transportTypeFromName(name string) (TransportType, bool) {
	switch strings.ToLower(name) {
	case "websockets":
		return TransportWebSockets, true
	case "serversentevents":
		return TransportServerSentEvents, true
	case "longpolling":
		return TransportLongPolling, true
	default:
		return TransportNone, false
	}
}

// TransportState is the lifecycle of a single transport instance, from
// dialing through to closed.
type TransportState int

const (
	TransportStateConnecting TransportState = iota
	TransportStateOpen
	TransportStateClosing
	TransportStateClosed
)

// TransportFeatures describes the capabilities a connected transport
// instance actually offers, so callers can branch on them instead of
// assuming every transport behaves the same way. The stateful-reconnect
// hooks (Disconnected/Resend) are supplied by the higher-level HubConnection
// façade, out of scope here, and are nil unless that façade sets them.
type TransportFeatures struct {
	// Reconnect is true iff this transport supports stateful reconnect
	// (WebSockets only, and only when negotiated).
	Reconnect bool

	// Disconnected and Resend are optional hooks a stateful-reconnect-aware
	// consumer may attach; the core never calls them itself.
	Disconnected func()
	Resend       func()

	// InherentKeepAlive is true for transports that have their own
	// keep-alive (e.g. long polling's request/response cadence), signaling
	// that a consumer-level ping timer is unnecessary.
	InherentKeepAlive bool
}

// Transport is the uniform capability set any concrete transport exposes to
// the connection state machine. Implementations: WebSocketTransport,
// SSETransport, LongPollingTransport.
type Transport interface {
	// Connect opens the transport against url using the given transfer
	// format. It resolves only once the transport has reached the Open
	// state, or returns a *TransportError{Kind: TransportHandshake} on
	// failure.
	Connect(ctx context.Context, url string, format TransferFormat) error

	// Send writes payload (a UTF-8 string for Text, raw bytes for Binary)
	// to the open transport. It fails with ErrTransportNotOpen outside the
	// Open state.
	Send(ctx context.Context, payload []byte) error

	// Stop idempotently closes the transport, guaranteeing OnClose fires
	// exactly once.
	Stop() error

	// SetReceiveHandler installs the callback invoked once per inbound
	// message, in delivery order, never concurrently for this instance.
	SetReceiveHandler(func(payload []byte))

	// SetCloseHandler installs the callback invoked exactly once when the
	// transport leaves the Open state, carrying the cause if any.
	SetCloseHandler(func(err error))

	// Features reports the capability set negotiated for this transport
	// instance (set by the connection state machine after construction).
	Features() *TransportFeatures
}
