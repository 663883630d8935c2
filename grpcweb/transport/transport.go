// Package transport implements the HTTP/WebSocket collaborators the call
// core drives: UnaryTransport sends one HTTP request and streams its
// response body back, serving unary, server-stream, client-stream, and
// duplex calls alike (client-stream/duplex bodies are simply io.Pipe readers
// the call writes into as messages are produced). ClientStreamTransport is
// the legacy WebSocket bridge, selected via grpcweb.WithWebSocketStreaming
// for proxies that only support improbable-eng's WebSocket streaming
// extension.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// UnaryTransport sends one HTTP request and returns its response headers and
// streaming body.
type UnaryTransport interface {
	// Header returns the mutable header map to populate before Send.
	Header() http.Header
	// Send issues the request and returns once response headers arrive. The
	// returned ReadCloser always also implements `Response() *http.Response`,
	// giving callers the status code and (outside gRPC-Web framing) the
	// native HTTP trailers.
	Send(ctx context.Context, endpoint, contentType string, body io.Reader) (http.Header, io.ReadCloser, error)
	// Close releases any resources (idle connections) held by the transport.
	Close() error
}

// responseBody adapts an *http.Response's body so the call core can also
// reach the response itself.
type responseBody struct {
	io.ReadCloser
	resp *http.Response
}

func (b *responseBody) Response() *http.Response { return b.resp }

type httpTransport struct {
	url    *url.URL
	client *http.Client

	mu     sync.Mutex
	header http.Header
	sent   bool
}

func (t *httpTransport) Header() http.Header {
	return t.header
}

func (t *httpTransport) Send(
	ctx context.Context,
	endpoint, contentType string,
	body io.Reader,
) (http.Header, io.ReadCloser, error) {
	t.mu.Lock()
	if t.sent {
		t.mu.Unlock()
		return nil, nil, errors.New("Send must be called only once per request")
	}
	t.sent = true
	t.mu.Unlock()

	u := *t.url
	u.Path += endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build the API request")
	}

	req.Header = t.Header()
	req.Header.Set("content-type", contentType)
	req.Header.Set("x-grpc-web", "1")

	res, err := t.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to send the request")
	}

	// Status code and content-type validation is the call core's job; the
	// transport only reports transport-level failures.
	return res.Header, &responseBody{ReadCloser: res.Body, resp: res}, nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// NewUnary dials an HTTP transport targeting host. It is a var, not a func,
// so tests can substitute a fake transport.
var NewUnary = func(host string, opts ...ConnectOption) (UnaryTransport, error) {
	o := new(connectOptions)
	for _, f := range opts {
		f(o)
	}

	scheme := "https"
	if o.insecure {
		scheme = "http"
	}

	u, err := url.Parse(fmt.Sprintf("%s://%s", scheme, host))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse host into url")
	}

	client := &http.Client{}
	if o.tlsConf != nil {
		if defTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			tr := defTransport.Clone()
			tr.TLSClientConfig = o.tlsConf
			client.Transport = tr
		}
	}

	return &httpTransport{
		url:    u,
		client: client,
		header: make(http.Header),
	}, nil
}

// ClientStreamTransport is the legacy improbable-eng-compatible WebSocket
// bridge, for gRPC-Web proxies that do not support a streamed HTTP request
// body. By default the call core's client-stream/duplex path drives
// UnaryTransport with an io.Pipe body instead; grpcweb.WithWebSocketStreaming
// selects this transport in its place.
//
// gRPC-Web's own specification does not define client-side streaming
// (https://github.com/grpc/grpc/blob/master/doc/PROTOCOL-WEB.md); this
// bridges to improbable-eng/grpc-web's WebSocket extension instead.
type ClientStreamTransport interface {
	Header() (http.Header, error)
	Trailer() http.Header

	// SetRequestHeader sets headers to send to the gRPC-Web server. It
	// should be called before Send.
	SetRequestHeader(h http.Header)
	Send(ctx context.Context, body io.Reader) error
	Receive(ctx context.Context) (io.ReadCloser, error)

	// CloseSend sends a close signal to the server.
	CloseSend() error
	// Close closes the connection.
	Close() error
}

type webSocketTransport struct {
	host     string
	endpoint string

	conn *websocket.Conn

	once    sync.Once
	resOnce sync.Once

	closed bool

	writeMu sync.Mutex

	reqHeader, header, trailer http.Header
}

func (t *webSocketTransport) Header() (http.Header, error) {
	return t.header, nil
}

func (t *webSocketTransport) Trailer() http.Header {
	return t.trailer
}

func (t *webSocketTransport) SetRequestHeader(h http.Header) {
	t.reqHeader = h
}

func (t *webSocketTransport) Send(ctx context.Context, body io.Reader) error {
	if t.closed {
		return io.EOF
	}

	var err error
	t.once.Do(func() {
		h := t.reqHeader
		if h == nil {
			h = make(http.Header)
		}
		h.Set("content-type", "application/grpc-web+proto")
		h.Set("x-grpc-web", "1")
		var b bytes.Buffer
		_ = h.Write(&b)

		err = t.writeMessage(websocket.BinaryMessage, b.Bytes())
	})
	if err != nil {
		return err
	}

	var b bytes.Buffer
	b.Write([]byte{0x00})
	if _, err := io.Copy(&b, body); err != nil {
		return errors.Wrap(err, "failed to read request body")
	}

	return t.writeMessage(websocket.BinaryMessage, b.Bytes())
}

func (t *webSocketTransport) Receive(context.Context) (_ io.ReadCloser, err error) {
	if t.closed {
		return nil, io.EOF
	}

	defer func() {
		if err == nil {
			return
		}
		if berr, ok := errors.Cause(err).(*net.OpError); ok && !berr.Temporary() {
			err = io.EOF
		}
	}()

	t.resOnce.Do(func() {
		_, _, err = t.conn.NextReader()
		if err != nil {
			err = errors.Wrap(err, "failed to read response header")
			return
		}

		_, msg, rerr := t.conn.NextReader()
		if rerr != nil {
			err = errors.Wrap(rerr, "failed to read response header")
			return
		}

		h := make(http.Header)
		s := bufio.NewScanner(msg)
		for s.Scan() {
			line := s.Text()
			i := strings.Index(line, ": ")
			if i == -1 {
				continue
			}
			h.Add(strings.ToLower(line[:i]), line[i+2:])
		}
		t.header = h
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, b, err := t.conn.ReadMessage()
	if err != nil {
		if cerr, ok := err.(*websocket.CloseError); ok {
			if cerr.Code == websocket.CloseNormalClosure {
				return nil, io.EOF
			}
			if cerr.Code == websocket.CloseAbnormalClosure {
				return nil, io.ErrUnexpectedEOF
			}
		}
		return nil, errors.Wrap(err, "failed to read response body")
	}
	buf.Write(b)

	r, err := t.conn.NextReader()
	if err != nil {
		return nil, err
	}

	by, err := io.ReadAll(io.MultiReader(&buf, r))
	if err != nil {
		return nil, errors.Wrap(err, "failed to drain response message")
	}

	return io.NopCloser(bytes.NewReader(by)), nil
}

func (t *webSocketTransport) CloseSend() error {
	// 0x01 means the finish-send frame. ref. transports/websocket/websocket.ts
	if err := t.writeMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		return fmt.Errorf("failed to write message to websocket: %w", err)
	}
	return nil
}

func (t *webSocketTransport) Close() error {
	err := t.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	t.closed = true
	return t.conn.Close()
}

func (t *webSocketTransport) writeMessage(msg int, b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(msg, b)
}

// NewClientStream dials the legacy WebSocket bridge.
var NewClientStream = func(host, endpoint string, opts ...ConnectOption) (ClientStreamTransport, error) {
	o := new(connectOptions)
	for _, f := range opts {
		f(o)
	}

	scheme := "wss"
	if o.insecure {
		scheme = "ws"
	}

	u, err := url.Parse(fmt.Sprintf("%s://%s%s", scheme, host, endpoint))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse url")
	}

	wsDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if o.tlsConf != nil {
		wsDialer.TLSClientConfig = o.tlsConf
	}

	h := http.Header{}
	h.Set("Sec-WebSocket-Protocol", "grpc-websockets")

	conn, _, err := wsDialer.Dial(u.String(), h)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %q", u.String())
	}

	return &webSocketTransport{
		host:     host,
		endpoint: endpoint,
		conn:     conn,
	}, nil
}
