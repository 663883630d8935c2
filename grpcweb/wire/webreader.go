package wire

import (
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpcweb-core/client/grpcweb/frame"
	"github.com/grpcweb-core/client/grpcweb/trailer"
)

// WebReader demultiplexes a gRPC-Web response body into message frames and a
// terminal trailer frame. In text mode the body is base64-decoded on the fly
// before framing is applied.
//
// WebReader is not safe for concurrent use; a call's body is read by exactly
// one logical reader at a time, matching the call core's single-task model.
type WebReader struct {
	r              io.Reader
	maxReceiveSize int

	done     bool
	trailers metadata.MD
}

// NewWebReader wraps r, which must yield the raw (possibly base64-encoded)
// gRPC-Web response body. If text is true, r is base64-decoded before
// frames are parsed out of it.
func NewWebReader(r io.Reader, text bool, maxReceiveSize int) *WebReader {
	if text {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	return &WebReader{r: r, maxReceiveSize: maxReceiveSize}
}

// Next returns the next message's payload. It returns io.EOF once the
// terminal trailer frame has been consumed; Trailers returns the parsed
// trailers from that point on. Calling Next again after io.EOF is safe and
// keeps returning io.EOF, unless the peer sent bytes after the trailer
// frame, which is reported as a protocol error (Internal).
func (wr *WebReader) Next() ([]byte, error) {
	if wr.done {
		return nil, wr.checkQuiescent()
	}

	f, err := frame.Read(wr.r, wr.maxReceiveSize)
	if errors.Is(err, io.EOF) {
		// Web mode requires a trailer frame; a clean EOF without one is a
		// protocol error, distinct from the non-Web case where trailers
		// arrive as native HTTP trailers instead.
		return nil, status.Error(codes.Internal, "grpcweb: response body ended without a trailer frame")
	}
	if err != nil {
		return nil, err
	}

	if !f.Trailer {
		return f.Payload, nil
	}

	trailers, err := trailer.Parse(f.Payload)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpcweb: failed to parse trailer frame: %s", err)
	}

	wr.trailers = trailers
	wr.done = true

	return nil, io.EOF
}

// checkQuiescent is called once WebReader has delivered its trailer frame;
// any further bytes on the wire are a protocol violation.
func (wr *WebReader) checkQuiescent() error {
	var b [1]byte
	n, err := wr.r.Read(b[:])
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return err
	}
	if n > 0 {
		return status.Error(codes.Internal, "grpcweb: unexpected data after trailer frame")
	}
	return io.EOF
}

// Trailers returns the trailers parsed from the terminal trailer frame. It
// returns nil until Next has returned io.EOF.
func (wr *WebReader) Trailers() metadata.MD {
	return wr.trailers
}

// Done reports whether the terminal trailer frame has been consumed.
func (wr *WebReader) Done() bool {
	return wr.done
}
