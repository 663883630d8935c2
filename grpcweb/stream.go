package grpcweb

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpcweb-core/client/grpcweb/frame"
	"github.com/grpcweb-core/client/grpcweb/trailer"
	"github.com/grpcweb-core/client/grpcweb/transport"
)

// Stream is a generic client handle for a streaming RPC: some mixture of
// SendMsg/RecvMsg calls depending on the method's Kind, backed by a single
// Call.
type Stream interface {
	// Header returns the header metadata from the server, if there is any.
	// It blocks if the metadata is not ready to read.
	Header() (metadata.MD, error)
	// Trailer returns the trailer metadata from the server, if there is any.
	// It must only be called after RecvMsg has returned a non-nil error
	// (including io.EOF).
	Trailer() metadata.MD
	// Context returns the context associated with the stream.
	Context() context.Context
	// CloseSend closes the sending side of the stream. It is a no-op for
	// methods that do not stream client-side.
	CloseSend() error
	// SendMsg sends a message on the stream.
	SendMsg(m any) error
	// RecvMsg receives a message from the stream.
	RecvMsg(m any) error
}

// rpcStream adapts a Call to the Stream interface. One Call serves every
// Kind; only how SendMsg/CloseSend behave varies.
type rpcStream struct {
	call        *Call
	callOptions *callOptions
	method      Method
	tr          transport.UnaryTransport

	started atomic.Bool
}

func newRPCStream(ctx context.Context, conn *ClientConn, method Method, opts *callOptions) (*rpcStream, error) {
	call, err := newCall(ctx, conn, method, opts)
	if err != nil {
		return nil, err
	}

	tr, err := transport.NewUnary(conn.host, conn.connectOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a new unary transport")
	}

	s := &rpcStream{call: call, callOptions: opts, method: method, tr: tr}

	if method.Kind.ClientStreams() {
		// The request body is an io.Pipe the caller writes into via
		// SendMsg; it must be attached before the first SendMsg call.
		call.Start(tr, nil)
		s.started.Store(true)
	}

	return s, nil
}

func (s *rpcStream) Header() (metadata.MD, error) {
	return s.call.GetResponseHeaders()
}

func (s *rpcStream) Trailer() metadata.MD {
	return s.call.Trailers()
}

func (s *rpcStream) Context() context.Context {
	return s.call.ctx
}

func (s *rpcStream) CloseSend() error {
	if !s.method.Kind.ClientStreams() {
		return nil
	}
	return s.call.completeWrite()
}

// SendMsg sends a message. For client-streaming/duplex methods it writes one
// more frame into the request body; for server-streaming methods, the single
// call is expected exactly once and starts the request.
func (s *rpcStream) SendMsg(m any) error {
	if s.method.Kind.ClientStreams() {
		payload, err := marshalPayload(s.callOptions.codec, m)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request message")
		}
		return s.call.writeFrame(payload)
	}

	if !s.started.CompareAndSwap(false, true) {
		return usageErrorf("SendMsg called more than once on a non-client-streaming method")
	}

	s.call.Start(s.tr, func() ([]byte, error) {
		return marshalPayload(s.callOptions.codec, m)
	})

	return s.call.awaitSend()
}

func (s *rpcStream) RecvMsg(m any) error {
	return s.call.Recv(func(payload []byte) error {
		return unmarshalPayload(s.callOptions.codec, payload, m)
	})
}

var _ io.Closer = (*rpcStream)(nil)

// Close releases transport resources. It is safe to call multiple times and
// is implied by RecvMsg reaching io.EOF or any terminal error, but callers
// that abandon a stream early should still call it.
func (s *rpcStream) Close() error {
	s.call.Dispose()
	return s.tr.Close()
}

// webSocketStream adapts transport.ClientStreamTransport to Stream for
// client-stream/duplex calls made over the legacy improbable-eng WebSocket
// bridge (selected by WithWebSocketStreaming), for gRPC-Web proxies that
// don't support a streamed HTTP request body. Each SendMsg/RecvMsg pair maps
// onto one WebSocket message; trailers arrive as a final framed message (or,
// for a response with no message at all, as the response headers instead).
type webSocketStream struct {
	ctx         context.Context
	method      Method
	tr          transport.ClientStreamTransport
	callOptions *callOptions

	trailersOnly, closed, sentCloseSend atomic.Bool
	headerMu, trailerMu                 sync.RWMutex
	headerMD, trailerMD                 metadata.MD
}

func newWebSocketStream(ctx context.Context, conn *ClientConn, method Method, opts *callOptions) (*webSocketStream, error) {
	tr, err := transport.NewClientStream(conn.host, method.FullName, conn.connectOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a new websocket transport")
	}
	return &webSocketStream{ctx: ctx, method: method, tr: tr, callOptions: opts}, nil
}

func (s *webSocketStream) Header() (metadata.MD, error) {
	if s.trailersOnly.Load() {
		return nil, nil
	}
	if h := s.header(); h != nil {
		return h, nil
	}

	headers, err := s.tr.Header()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get headers")
	}
	md := headersToMetadata(headers)

	s.headerMu.Lock()
	s.headerMD = md
	s.headerMu.Unlock()
	return md, nil
}

func (s *webSocketStream) header() metadata.MD {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()
	return s.headerMD
}

func (s *webSocketStream) Trailer() metadata.MD {
	s.trailerMu.RLock()
	defer s.trailerMu.RUnlock()
	return s.trailerMD
}

func (s *webSocketStream) Context() context.Context { return s.ctx }

func (s *webSocketStream) CloseSend() error {
	if err := s.tr.CloseSend(); err != nil {
		return errors.Wrap(err, "failed to close the send stream")
	}
	s.sentCloseSend.Store(true)
	return nil
}

func (s *webSocketStream) SendMsg(m any) error {
	payload, err := marshalPayload(s.callOptions.codec, m)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request message")
	}

	h := make(http.Header)
	applyOutgoingHeaders(h, s.callOptions.outgoing)
	s.tr.SetRequestHeader(h)

	if err := s.tr.Send(s.ctx, framedReader(payload, false)); err != nil {
		return errors.Wrap(err, "failed to send the request")
	}
	return nil
}

func (s *webSocketStream) RecvMsg(m any) error {
	if s.method.Kind == Duplex && s.closed.Load() {
		return io.EOF
	}

	rawBody, err := s.tr.Receive(s.ctx)
	if s.isTrailerOnly(err) {
		return s.finishTrailersOnly()
	}
	if err != nil {
		return errors.Wrap(err, "failed to receive the response")
	}
	defer rawBody.Close()

	f, err := frame.Read(rawBody, 0)
	if err != nil {
		return errors.Wrap(err, "failed to parse response frame")
	}

	if f.Trailer {
		return s.finishTrailer(f)
	}

	if err := unmarshalPayload(s.callOptions.codec, f.Payload, m); err != nil {
		return err
	}

	if s.method.Kind == ClientStream {
		// improbable-eng/grpc-web sends the trailer as a second message.
		rawBody2, err := s.tr.Receive(s.ctx)
		if err != nil {
			return errors.Wrap(err, "failed to receive the response trailer")
		}
		defer rawBody2.Close()

		tf, err := frame.Read(rawBody2, 0)
		if err != nil {
			return errors.Wrap(err, "failed to parse trailer frame")
		}
		return s.finishTrailer(tf)
	}

	return nil
}

func (s *webSocketStream) finishTrailer(f frame.Frame) error {
	md, err := trailer.Parse(f.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to parse trailer")
	}

	s.closed.Store(true)
	s.trailerMu.Lock()
	s.trailerMD = md
	s.trailerMu.Unlock()

	if st := statusFromTrailers(md); st.Code() != codes.OK {
		return st.Err()
	}
	return io.EOF
}

func (s *webSocketStream) finishTrailersOnly() error {
	s.closed.Store(true)

	trailerMD, err := s.Header()
	if err != nil {
		return errors.Wrap(err, "failed to get header instead of trailer")
	}

	s.trailerMu.Lock()
	s.trailerMD = trailerMD
	s.trailersOnly.Store(true)
	s.trailerMu.Unlock()

	codeStrs := trailerMD.Get("grpc-status")
	if len(codeStrs) == 0 {
		return status.New(codes.Unknown, "grpcweb: response closed without grpc-status (headers only)").Err()
	}
	if st := statusFromTrailers(trailerMD); st.Code() != codes.OK {
		return st.Err()
	}
	return io.EOF
}

// isTrailerOnly reports whether err is the improbable-eng WebSocket bridge's
// signal for a response that carried no message, only headers-as-trailers:
// the peer closes the connection once CloseSend has been acknowledged.
func (s *webSocketStream) isTrailerOnly(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) && s.Trailer().Len() == 0
}

var _ io.Closer = (*webSocketStream)(nil)

// Close releases the underlying WebSocket connection.
func (s *webSocketStream) Close() error {
	return s.tr.Close()
}
