package grpcweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpcweb-core/client/grpcweb/frame"
	"github.com/grpcweb-core/client/grpcweb/timeout"
	"github.com/grpcweb-core/client/grpcweb/transport"
	"github.com/grpcweb-core/client/grpcweb/wire"
)

// messageSource hides where trailers come from: in gRPC-Web mode they arrive
// embedded in the body as a terminal trailer frame (wire.WebReader); outside
// gRPC-Web mode they arrive as native HTTP trailers, populated once the body
// is fully drained.
type messageSource interface {
	// Next returns the next message payload, or io.EOF once the stream is
	// exhausted and Trailers is ready to call.
	Next() ([]byte, error)
	Trailers() metadata.MD
}

type nativeFrameSource struct {
	body           io.Reader
	resp           *http.Response
	maxReceiveSize int
}

func (n *nativeFrameSource) Next() ([]byte, error) {
	f, err := frame.Read(n.body, n.maxReceiveSize)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

func (n *nativeFrameSource) Trailers() metadata.MD {
	return headersToMetadata(n.resp.Trailer)
}

// Call owns the full lifecycle of one RPC invocation: cancellation
// composition, the deadline, the HTTP send, header validation, trailer
// extraction, and disposal.
type Call struct {
	conn    *ClientConn
	method  Method
	opts    *callOptions
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
	start   time.Time

	webMode, textMode bool
	maxReceiveSize    int

	ctx           context.Context
	cancel        context.CancelFunc
	deadlineStop  context.CancelFunc
	hasDeadline   bool

	deadlineReached  atomic.Bool
	responseFinished atomic.Bool
	disposed         atomic.Bool

	tr transport.UnaryTransport

	sendOnce sync.Once
	sendDone chan struct{}
	header   metadata.MD
	rawBody  io.ReadCloser
	resp     *http.Response
	sendErr  error

	headerErrMu sync.Mutex
	headerErr   error

	trailersMu sync.Mutex
	trailers   metadata.MD
	trailerSet bool

	src messageSource

	// streaming plumbing: populated only for client-stream/duplex calls.
	pipeWriter   *io.PipeWriter
	bodyWriter   io.Writer
	writeReady   *onceValue[io.Writer]
	writeFlush   func() error
	writeDone    atomic.Bool
	writtenAny   atomic.Bool
}

// newCall validates options and wires up the internal cancellation source.
// A non-UTC deadline is a usage error, not a status.
func newCall(
	ctx context.Context,
	conn *ClientConn,
	method Method,
	opts *callOptions,
) (*Call, error) {
	if !opts.deadline.IsZero() && opts.deadline.Location() != time.UTC {
		return nil, usageErrorf("deadline must be expressed in UTC, got location %q", opts.deadline.Location())
	}

	dopt := conn.dialOptions

	callCtx := ctx
	deadlineStop := func() {}
	hasDeadline := false
	if !opts.deadline.IsZero() {
		var stop context.CancelFunc
		callCtx, stop = context.WithDeadline(callCtx, opts.deadline)
		deadlineStop = stop
		hasDeadline = true
	}
	if _, ok := callCtx.Deadline(); ok {
		hasDeadline = true
	}

	callCtx, cancel := context.WithCancel(callCtx)

	web := !dopt.native
	text := web && dopt.textMode

	clock := dopt.clock
	if clock == nil {
		clock = realClock{}
	}

	c := &Call{
		conn:           conn,
		method:         method,
		opts:           opts,
		clock:          clock,
		logger:         dopt.logger,
		metrics:        dopt.metrics,
		start:          clock.Now(),
		webMode:        web,
		textMode:       text,
		maxReceiveSize: dopt.maxReceiveSize,
		ctx:            callCtx,
		cancel:         cancel,
		deadlineStop:   deadlineStop,
		hasDeadline:    hasDeadline,
		sendDone:       make(chan struct{}),
		writeReady:     newOnceValue[io.Writer](),
	}

	go c.watchExternalCancellation()

	return c, nil
}

// watchExternalCancellation propagates the merged context's cancellation
// (external cancel, deadline fire, or a parent call) onto deadlineReached
// bookkeeping. It is the only place that sets deadlineReached.
func (c *Call) watchExternalCancellation() {
	<-c.ctx.Done()
	if errors.Is(c.ctx.Err(), context.DeadlineExceeded) && !c.responseFinished.Load() {
		c.deadlineReached.Store(true)
	}
}

// Start builds the HTTP request and launches the send. kind-specific body
// construction happens here: unary/server-stream calls attach a
// fully-serialized body; client-stream/duplex calls attach an io.Pipe whose
// write end is exposed to the stream Writer via the write-ready promise.
func (c *Call) Start(tr transport.UnaryTransport, marshal func() ([]byte, error)) {
	c.tr = tr

	applyOutgoingHeaders(tr.Header(), c.opts.outgoing)
	if c.hasDeadline {
		if dl, ok := c.ctx.Deadline(); ok {
			tr.Header().Set("grpc-timeout", timeout.Encode(time.Until(dl)))
		}
	}
	tr.Header().Set("te", "trailers")

	contentType := c.contentType()

	var body io.Reader
	switch {
	case c.method.Kind.ClientStreams():
		pr, pw := io.Pipe()
		c.pipeWriter = pw
		c.bodyWriter = pw
		if c.textMode {
			b64 := wire.NewBase64Writer(pw)
			c.bodyWriter = b64
			c.writeFlush = b64.Flush
		} else {
			c.writeFlush = func() error { return nil }
		}
		body = pr
		c.writeReady.resolve(c.bodyWriter)
	default:
		payload, err := marshal()
		if err != nil {
			c.failSend(errors.Wrap(err, "failed to marshal request"))
			return
		}
		body = framedReader(payload, c.textMode)
	}

	go c.send(tr, contentType, body)
}

// framedReader renders a single message as a ready-to-send request body,
// base64-encoding it whole when in gRPC-Web text mode.
func framedReader(payload []byte, text bool) io.Reader {
	var buf bytes.Buffer
	_ = frame.Write(&buf, payload, false)
	if !text {
		return &buf
	}
	var out bytes.Buffer
	bw := wire.NewBase64Writer(&out)
	_, _ = bw.Write(buf.Bytes())
	_ = bw.Flush()
	return &out
}

func (c *Call) send(tr transport.UnaryTransport, contentType string, body io.Reader) {
	c.logger.Debug("grpcweb: sending request", zap.String("method", c.method.FullName))

	header, rawBody, err := tr.Send(c.ctx, c.method.FullName, contentType, body)
	if err != nil {
		c.failSend(err)
		return
	}

	if resp, ok := rawBody.(interface{ Response() *http.Response }); ok {
		c.resp = resp.Response()
	}

	c.header = headersToMetadata(header)
	c.rawBody = rawBody

	if err := c.validateHeaders(header); err != nil {
		c.headerErrMu.Lock()
		c.headerErr = err
		c.headerErrMu.Unlock()
		c.sendOnce.Do(func() { close(c.sendDone) })
		c.Dispose()
		return
	}

	c.sendOnce.Do(func() { close(c.sendDone) })
}

func (c *Call) failSend(err error) {
	c.sendErr = err
	c.sendOnce.Do(func() { close(c.sendDone) })
}

// validateHeaders enforces that status is 200 and content-type names a
// recognized gRPC/gRPC-Web family.
func (c *Call) validateHeaders(h http.Header) error {
	if c.resp != nil && c.resp.StatusCode != http.StatusOK {
		return errors.Errorf("Expected HTTP status code 200. Got status code: %d", c.resp.StatusCode)
	}
	if _, _, ok := Family(h.Get("content-type")); !ok {
		return errors.Errorf("unrecognized content-type %q", h.Get("content-type"))
	}
	return nil
}

func (c *Call) contentType() string {
	codecName := c.opts.codec.Name()
	switch {
	case !c.webMode:
		return "application/grpc+" + codecName
	case c.textMode:
		return "application/grpc-web-text+" + codecName
	default:
		return "application/grpc-web+" + codecName
	}
}

// awaitSend blocks until the send either resolves or the call is cancelled,
// translating cancellation into the matching status.
func (c *Call) awaitSend() error {
	select {
	case <-c.sendDone:
		if c.sendErr != nil {
			return statusFromTransportError(c.deadlineReached.Load(), c.sendErr).Err()
		}
		c.headerErrMu.Lock()
		herr := c.headerErr
		c.headerErrMu.Unlock()
		if herr != nil {
			return status.Error(codes.Internal, fmt.Sprintf("Bad gRPC response. %s", herr.Error()))
		}
		return nil
	case <-c.ctx.Done():
		return statusFromCancellation(c.deadlineReached.Load(), c.ctx.Err()).Err()
	}
}

// GetResponseHeaders awaits the send and returns the validated response
// headers.
func (c *Call) GetResponseHeaders() (metadata.MD, error) {
	if err := c.awaitSend(); err != nil {
		return nil, err
	}
	return c.header, nil
}

// ensureSource builds the messageSource once headers are validated.
func (c *Call) ensureSource() messageSource {
	if c.src != nil {
		return c.src
	}
	if c.webMode {
		c.src = wire.NewWebReader(c.rawBody, c.textMode, c.maxReceiveSize)
	} else {
		c.src = &nativeFrameSource{body: c.rawBody, resp: c.resp, maxReceiveSize: c.maxReceiveSize}
	}
	return c.src
}

// GetResponse reads exactly one message from the body and finalizes the
// call via FinishResponse, for unary and (the final call on) client-stream
// RPCs.
func (c *Call) GetResponse(unmarshal func([]byte) error) error {
	if err := c.awaitSend(); err != nil {
		return err
	}

	src := c.ensureSource()

	payload, err := src.Next()
	if errors.Is(err, io.EOF) {
		// A trailers-only response: the normal way a server reports a
		// non-OK status without a message. Only the OK case (success with
		// no payload) is itself a protocol error.
		trailers := src.Trailers()
		if st := statusFromTrailers(trailers); st.Code() != codes.OK {
			return c.FinishResponse(trailers, nil)
		}
		return c.FinishResponse(trailers, status.New(codes.Internal, "grpcweb: response had no message"))
	}
	if err != nil {
		return c.finishWithTransportErr(err)
	}

	if err := unmarshal(payload); err != nil {
		return status.Errorf(codes.Internal, "grpcweb: failed to unmarshal response: %s", err)
	}

	// Drain to the trailer frame / native trailers to finalize status.
	if _, err := src.Next(); err != nil && !errors.Is(err, io.EOF) {
		return c.finishWithTransportErr(err)
	}

	return c.FinishResponse(src.Trailers(), nil)
}

// Recv reads the next streamed message for a server-stream/duplex Stream.
// On exhaustion it finalizes the call (trailers, final status, disposal)
// and returns io.EOF, matching the conventional Go streaming RecvMsg
// contract.
func (c *Call) Recv(unmarshal func([]byte) error) error {
	if err := c.awaitSend(); err != nil {
		return err
	}

	src := c.ensureSource()

	payload, err := src.Next()
	if errors.Is(err, io.EOF) {
		if ferr := c.FinishResponse(src.Trailers(), nil); ferr != nil {
			return ferr
		}
		return io.EOF
	}
	if err != nil {
		return c.finishWithTransportErr(err)
	}

	if err := unmarshal(payload); err != nil {
		return status.Errorf(codes.Internal, "grpcweb: failed to unmarshal response: %s", err)
	}
	return nil
}

func (c *Call) finishWithTransportErr(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		st = statusFromTransportError(c.deadlineReached.Load(), err)
	}
	return c.FinishResponse(nil, st)
}

// FinishResponse sets response_finished, resolves the final status from
// trailers (unless override is supplied), and always disposes.
func (c *Call) FinishResponse(trailers metadata.MD, override *status.Status) error {
	defer c.Dispose()

	if !c.responseFinished.CompareAndSwap(false, true) {
		c.trailersMu.Lock()
		defer c.trailersMu.Unlock()
		return nil
	}

	if trailers != nil {
		c.trailersMu.Lock()
		c.trailers = trailers
		c.trailerSet = true
		c.trailersMu.Unlock()
	}

	if c.opts.trailer != nil {
		*c.opts.trailer = c.Trailers()
	}

	st := override
	if st == nil {
		st = statusFromTrailers(c.Trailers())
	}

	c.logger.Debug("grpcweb: call finished",
		zap.String("method", c.method.FullName),
		zap.String("code", st.Code().String()))

	c.metrics.observe(c.method.FullName, c.method.Kind, st.Code(), c.start)

	if st.Code() != codes.OK {
		return st.Err()
	}
	return nil
}

// Trailers returns the cached trailer map; it is safe to call at any point,
// returning nil before the call has finished.
func (c *Call) Trailers() metadata.MD {
	c.trailersMu.Lock()
	defer c.trailersMu.Unlock()
	if !c.trailerSet {
		return nil
	}
	return c.trailers
}

// Dispose is idempotent. Before response_finished it cancels the internal
// source, unblocking any suspended send/read/write.
// After response_finished it trips the write-stream promises instead, since
// the internal source was already cancelled (or never needed to be) by the
// normal completion path.
func (c *Call) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	if !c.responseFinished.Load() {
		c.cancel()
	} else {
		c.writeReady.resolve(nil)
		c.writeDone.Store(true)
	}

	c.deadlineStop()

	if c.rawBody != nil {
		_ = c.rawBody.Close()
	}
}

// writeFrame serializes and writes one message frame to the request body,
// used by the client-stream/duplex Writer (component G).
func (c *Call) writeFrame(payload []byte) error {
	w, err := c.writeReady.wait(c.ctx)
	if err != nil {
		return statusFromCancellation(c.deadlineReached.Load(), c.ctx.Err()).Err()
	}
	if w == nil {
		return statusFromCancellation(c.deadlineReached.Load(), c.ctx.Err()).Err()
	}
	if c.writeDone.Load() {
		return usageErrorf("write called after Complete")
	}

	c.writtenAny.Store(true)

	if err := frame.Write(w, payload, false); err != nil {
		return errors.Wrap(err, "grpcweb: failed to write message frame")
	}
	if c.writeFlush != nil {
		if err := c.writeFlush(); err != nil {
			return errors.Wrap(err, "grpcweb: failed to flush base64 writer")
		}
	}
	return nil
}

// completeWrite closes the request body's write end, permitting the HTTP
// body to end. Further writeFrame calls fail with a usage error.
func (c *Call) completeWrite() error {
	if !c.writeDone.CompareAndSwap(false, true) {
		return nil
	}
	if c.pipeWriter != nil {
		return c.pipeWriter.Close()
	}
	return nil
}
