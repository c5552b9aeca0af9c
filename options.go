package signalr

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// options collects every Connection configuration knob, applied via the
// functional-options pattern (consistent with the rest of the client's
// asynchronous, callback-driven surface).
type options struct {
	httpClient           *http.Client
	transport            TransportType
	skipNegotiation      bool
	headers              http.Header
	withCredentials      bool
	timeout              time.Duration
	logMessageContent    bool
	useStatefulReconnect bool
	accessTokenFactory   AccessTokenFactory
	logger               zerolog.Logger
}

func defaultOptions() *options {
	return &options{
		transport:       TransportNone, // any
		withCredentials: true,
		timeout:         100 * time.Second,
		headers:         http.Header{},
		logger:          zerolog.Nop(),
	}
}

// Option configures a Connection constructed by NewConnection.
type Option func(*options)

// WithHTTPClient overrides the default HTTP client used for negotiate and
// any HTTP-based transport (SSE, Long Polling).
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTransport restricts the set of transports the client will accept,
// as a bitset over TransportWebSockets | TransportServerSentEvents |
// TransportLongPolling. The zero value means "any" (the default).
func WithTransport(t TransportType) Option {
	return func(o *options) { o.transport = t }
}

// WithSkipNegotiation bypasses the negotiate round trip entirely. Only
// valid when the permitted transport is exactly TransportWebSockets; the
// connection state machine rejects any other combination at start time.
func WithSkipNegotiation(skip bool) Option {
	return func(o *options) { o.skipNegotiation = skip }
}

// WithHeaders attaches headers to every negotiate and transport request.
func WithHeaders(headers http.Header) Option {
	return func(o *options) { o.headers = headers }
}

// WithLogger installs the zerolog.Logger the connection and its transports
// log through. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAccessTokenFactory installs an asynchronous bearer-token provider,
// consulted before every negotiate and transport request and superseded by
// a negotiate response's own accessToken for the remainder of the
// connection's lifetime.
func WithAccessTokenFactory(factory AccessTokenFactory) Option {
	return func(o *options) { o.accessTokenFactory = factory }
}

// WithTimeout sets the negotiate timeout (default 100 seconds).
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithLogMessageContent controls whether transports log payload bodies
// verbatim at debug level. Default false, since payloads may carry
// sensitive application data.
func WithLogMessageContent(log bool) Option {
	return func(o *options) { o.logMessageContent = log }
}

// WithStatefulReconnect requests the server-assisted stateful reconnect
// feature during negotiate.
func WithStatefulReconnect(enabled bool) Option {
	return func(o *options) { o.useStatefulReconnect = enabled }
}

// WithCredentials records whether credentials (cookies) should be forwarded
// cross-origin. Default true. The value is only stored in the connection's
// options: no negotiate or transport request in this package reads it.
func WithCredentials(withCredentials bool) Option {
	return func(o *options) { o.withCredentials = withCredentials }
}
