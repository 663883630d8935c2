package grpcweb

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/metadata"
)

var defaultDialOptions = dialOptions{
	logger: zap.NewNop(),
}

type dialOptions struct {
	defaultCallOptions []CallOption
	insecure           bool
	tlsConf            *tls.Config
	logger             *zap.Logger
	metrics            *Metrics
	maxReceiveSize     int
	native             bool
	textMode           bool
	clock              Clock
	webSocketStreaming bool
}

// DialOption configures a ClientConn.
type DialOption func(*dialOptions)

// WithDefaultCallOptions sets CallOptions applied to every call made through
// the client unless overridden per-call.
func WithDefaultCallOptions(opts ...CallOption) DialOption {
	return func(opt *dialOptions) {
		opt.defaultCallOptions = opts
	}
}

// WithInsecure dials over plain HTTP/WS instead of HTTPS/WSS.
func WithInsecure() DialOption {
	return func(opt *dialOptions) {
		opt.insecure = true
	}
}

// WithTLSConfig supplies a custom TLS configuration for HTTPS/WSS dialing.
func WithTLSConfig(conf *tls.Config) DialOption {
	return func(opt *dialOptions) {
		opt.tlsConf = conf
	}
}

// WithLogger attaches a structured logger used for call lifecycle events.
// Logging is purely observational; it never affects control flow.
func WithLogger(logger *zap.Logger) DialOption {
	return func(opt *dialOptions) {
		opt.logger = logger
	}
}

// WithMetrics attaches an optional call metrics collector.
func WithMetrics(m *Metrics) DialOption {
	return func(opt *dialOptions) {
		opt.metrics = m
	}
}

// WithMaxReceiveSize bounds the size of a single received message frame;
// frames larger than this fail with ResourceExhausted. Zero means unbounded.
func WithMaxReceiveSize(n int) DialOption {
	return func(opt *dialOptions) {
		opt.maxReceiveSize = n
	}
}

// WithNative targets a plain application/grpc server (e.g. an HTTP/2 gRPC
// endpoint behind a transcoding proxy) instead of gRPC-Web framing. The
// base64/trailer-frame adapters are bypassed; trailers are read as native
// HTTP trailers instead.
func WithNative() DialOption {
	return func(opt *dialOptions) {
		opt.native = true
	}
}

// WithGRPCWebText selects the gRPC-Web-text content-type family, base64
// encoding the entire request and response body. Ignored with WithNative.
func WithGRPCWebText() DialOption {
	return func(opt *dialOptions) {
		opt.textMode = true
	}
}

// WithClock overrides the call core's source of "now", for deterministic
// deadline tests.
func WithClock(c Clock) DialOption {
	return func(opt *dialOptions) {
		opt.clock = c
	}
}

// WithWebSocketStreaming routes client-stream/duplex calls over the legacy
// improbable-eng WebSocket bridge instead of a streamed HTTP request body.
// Use this against gRPC-Web proxies that don't support sending a request
// body incrementally. It has no effect on unary or server-stream calls.
func WithWebSocketStreaming() DialOption {
	return func(opt *dialOptions) {
		opt.webSocketStreaming = true
	}
}

var defaultCallOptions = callOptions{
	codec: encoding.GetCodecV2(proto.Name),
}

type callOptions struct {
	codec           encoding.CodecV2
	header, trailer *metadata.MD
	deadline        time.Time
	outgoing        metadata.MD
}

// CallOption configures a single RPC invocation.
type CallOption func(*callOptions)

// CallContentSubtype selects the codec by its gRPC content-subtype name
// (e.g. "proto", "json").
func CallContentSubtype(contentSubtype string) CallOption {
	return func(opt *callOptions) {
		opt.codec = encoding.GetCodecV2(contentSubtype)
	}
}

// Header arranges for the response headers to be written to h once
// available.
func Header(h *metadata.MD) CallOption {
	return func(opt *callOptions) {
		*h = metadata.New(nil)
		opt.header = h
	}
}

// Trailer arranges for the response trailers to be written to t once the
// call finishes.
func Trailer(t *metadata.MD) CallOption {
	return func(opt *callOptions) {
		*t = metadata.New(nil)
		opt.trailer = t
	}
}

// Deadline sets an absolute deadline for the call. It must be a UTC time;
// non-UTC deadlines are a usage error raised at call construction. If the
// context passed to Invoke/NewStream already carries an earlier deadline,
// the earlier one wins, matching context.Context composition semantics.
func Deadline(t time.Time) CallOption {
	return func(opt *callOptions) {
		opt.deadline = t
	}
}

// WithOutgoingHeader adds a single metadata header to the request. Binary
// (-bin suffixed) names are base64-encoded automatically. grpc-timeout
// cannot be set this way; it is always computed from the effective
// deadline.
func WithOutgoingHeader(name, value string) CallOption {
	return func(opt *callOptions) {
		if opt.outgoing == nil {
			opt.outgoing = metadata.MD{}
		}
		opt.outgoing.Append(name, value)
	}
}
