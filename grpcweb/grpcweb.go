package grpcweb

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"

	"github.com/grpcweb-core/client/grpcweb/transport"
)

// ErrInsecureWithTLS is returned by NewClient when both WithInsecure and
// WithTLSConfig are supplied; they are mutually exclusive.
var ErrInsecureWithTLS = errors.New("insecure and tls configuration couldn't be set simultaneously")

// ErrNotAStreamingRequest is returned by NewStream when desc describes a
// unary method; use Invoke instead.
var ErrNotAStreamingRequest = errors.New("not a streaming request")

// ClientConn is a lightweight, reusable handle to a single gRPC-Web host. It
// holds no persistent connection of its own; each call dials its own
// *http.Client-backed transport, matching how gRPC-Web proxies are usually
// fronted by a connection-pooling load balancer.
type ClientConn struct {
	host        string
	dialOptions *dialOptions
}

// NewClient builds a ClientConn targeting host ("api.example.com:443" or
// similar; no scheme).
func NewClient(host string, opts ...DialOption) (*ClientConn, error) {
	opt := defaultDialOptions
	for _, o := range opts {
		o(&opt)
	}

	if opt.insecure && opt.tlsConf != nil {
		return nil, ErrInsecureWithTLS
	}

	if opt.clock == nil {
		opt.clock = realClock{}
	}

	return &ClientConn{
		host:        host,
		dialOptions: &opt,
	}, nil
}

// Invoke performs a unary RPC: it sends args, waits for the single response
// message, and returns the final status as an error (nil on codes.OK).
func (c *ClientConn) Invoke(ctx context.Context, method string, args, reply any, opts ...CallOption) error {
	callOpts := c.applyCallOptions(opts)

	call, err := newCall(ctx, c, Method{FullName: method, Kind: Unary}, callOpts)
	if err != nil {
		return err
	}

	tr, err := transport.NewUnary(c.host, c.connectOptions()...)
	if err != nil {
		return errors.Wrap(err, "failed to create a new unary transport")
	}
	defer tr.Close()

	call.Start(tr, func() ([]byte, error) {
		return marshalPayload(callOpts.codec, args)
	})

	if callOpts.header != nil {
		h, err := call.GetResponseHeaders()
		if err != nil {
			return err
		}
		*callOpts.header = h
	}

	return call.GetResponse(func(payload []byte) error {
		return unmarshalPayload(callOpts.codec, payload, reply)
	})
}

// NewStream opens a streaming RPC matching desc's shape (client-streaming,
// server-streaming, or both/duplex).
func (c *ClientConn) NewStream(
	ctx context.Context,
	desc *grpc.StreamDesc,
	method string,
	opts ...CallOption,
) (Stream, error) {
	if !desc.ClientStreams && !desc.ServerStreams {
		return nil, ErrNotAStreamingRequest
	}

	kind := ServerStream
	switch {
	case desc.ClientStreams && desc.ServerStreams:
		kind = Duplex
	case desc.ClientStreams:
		kind = ClientStream
	}

	m := Method{FullName: method, Kind: kind}
	callOpts := c.applyCallOptions(opts)

	if kind.ClientStreams() && c.dialOptions.webSocketStreaming {
		return newWebSocketStream(ctx, c, m, callOpts)
	}

	return newRPCStream(ctx, c, m, callOpts)
}

func (c *ClientConn) applyCallOptions(opts []CallOption) *callOptions {
	callOpts := append(append([]CallOption{}, c.dialOptions.defaultCallOptions...), opts...)
	callOptions := defaultCallOptions
	for _, o := range callOpts {
		o(&callOptions)
	}
	return &callOptions
}

func (c *ClientConn) connectOptions() []transport.ConnectOption {
	connOpts := make([]transport.ConnectOption, 0, 2)
	if c.dialOptions.insecure {
		connOpts = append(connOpts, transport.WithInsecure())
	}
	if c.dialOptions.tlsConf != nil {
		connOpts = append(connOpts, transport.WithTLSConfig(c.dialOptions.tlsConf))
	}
	return connOpts
}

// marshalPayload renders v through codec into a flat byte slice, draining
// the codec's pooled mem.BufferSlice immediately since frame writing never
// needs zero-copy chunked access.
func marshalPayload(codec encoding.CodecV2, v any) ([]byte, error) {
	buf, err := codec.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal request by codec %s", codec.Name())
	}
	defer buf.Free()

	var out bytes.Buffer
	out.Grow(buf.Len())
	if _, err := out.ReadFrom(buf.Reader()); err != nil {
		return nil, errors.Wrap(err, "failed to drain marshaled request")
	}
	return out.Bytes(), nil
}

// unmarshalPayload decodes payload into v using codec.
func unmarshalPayload(codec encoding.CodecV2, payload []byte, v any) error {
	if err := codec.Unmarshal(mem.BufferSlice{mem.NewBuffer(&payload, nil)}, v); err != nil {
		return errors.Wrapf(err, "failed to unmarshal response body by codec %s", codec.Name())
	}
	return nil
}
