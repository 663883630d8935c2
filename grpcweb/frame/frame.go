// Package frame reads and writes length-prefixed gRPC message frames:
// a 1-byte compression flag, a 4-byte big-endian length, and the payload.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HeaderLen is the size in bytes of a frame header (flag + length).
const HeaderLen = 5

// Flag bits recognized on a frame header.
const (
	// FlagCompressed marks the payload as compressed (bit 0).
	FlagCompressed byte = 1 << 0
	// FlagTrailer marks the frame as a gRPC-Web trailer frame rather than a
	// message frame (bit 7). Only meaningful in gRPC-Web mode.
	FlagTrailer byte = 1 << 7
)

// Frame is a single decoded gRPC wire frame.
type Frame struct {
	Compressed bool
	Trailer    bool
	Payload    []byte
}

// Write encodes payload as a frame and writes it to w.
func Write(w io.Writer, payload []byte, compressed bool) error {
	h := Header(len(payload), compressed)
	if _, err := w.Write(h); err != nil {
		return errors.Wrap(err, "failed to write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "failed to write frame payload")
	}
	return nil
}

// Header builds the 5-byte frame header for a payload of the given length.
func Header(payloadLen int, compressed bool) []byte {
	h := make([]byte, HeaderLen)
	if compressed {
		h[0] = FlagCompressed
	}
	binary.BigEndian.PutUint32(h[1:], uint32(payloadLen))
	return h
}

// Read consumes exactly one frame from r: a 5-byte header followed by its
// payload. maxReceiveSize bounds the payload length; a non-positive value
// disables the bound. A short read at EOF with fewer than HeaderLen bytes
// available is reported as a protocol error (Internal); a clean EOF before
// any byte of the header is read is reported as io.EOF so callers can detect
// end-of-stream.
func Read(r io.Reader, maxReceiveSize int) (Frame, error) {
	var h [HeaderLen]byte
	n, err := io.ReadFull(r, h[:])
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		return Frame{}, io.EOF
	case err != nil:
		return Frame{}, status.Error(codes.Internal, "grpcweb: unexpected EOF reading frame header")
	}

	flag := h[0]
	length := binary.BigEndian.Uint32(h[1:])

	if maxReceiveSize > 0 && int(length) > maxReceiveSize {
		return Frame{}, status.Errorf(codes.ResourceExhausted,
			"grpcweb: received message of size %d exceeds max %d", length, maxReceiveSize)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, status.Error(codes.Internal, "grpcweb: unexpected EOF reading frame payload")
		}
	}

	return Frame{
		Compressed: flag&FlagCompressed != 0,
		Trailer:    flag&FlagTrailer != 0,
		Payload:    payload,
	}, nil
}
