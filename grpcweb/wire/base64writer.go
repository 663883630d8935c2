// Package wire implements the gRPC-Web byte-stream adapters: a write-only
// base64 encoder for request bodies, and a read-only frame/trailer
// demultiplexer (optionally base64-decoding) for response bodies.
package wire

import (
	"encoding/base64"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// minBufSize is the smallest pooled buffer base64Writer will rent; it must
// be a multiple of 4 so encoded groups never straddle a flush boundary.
const minBufSize = 4096

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, minBufSize)
		return &b
	},
}

// Base64Writer wraps an io.Writer, base64-encoding everything written to it
// in 3-byte groups and forwarding the encoded bytes downstream. Call Flush
// when the logical message is complete to emit any held-over remainder
// (padded) and return the pooled buffer.
type Base64Writer struct {
	w     io.Writer
	buf   *[]byte
	rem   [2]byte
	remN  int
	freed bool
}

// NewBase64Writer returns a Base64Writer forwarding to w.
func NewBase64Writer(w io.Writer) *Base64Writer {
	return &Base64Writer{w: w}
}

func (bw *Base64Writer) ensureBuf() []byte {
	if bw.buf == nil {
		bw.buf = bufPool.Get().(*[]byte)
	}
	return *bw.buf
}

// Write implements io.Writer. The concatenation of bytes forwarded to the
// inner writer across a sequence of Write calls followed by Flush is exactly
// the canonical base64 encoding of the concatenation of all inputs.
func (bw *Base64Writer) Write(data []byte) (int, error) {
	total := len(data)

	if bw.remN > 0 {
		need := 3 - bw.remN
		if need > len(data) {
			copy(bw.rem[bw.remN:], data)
			bw.remN += len(data)
			return total, nil
		}

		group := [3]byte{}
		copy(group[:bw.remN], bw.rem[:bw.remN])
		copy(group[bw.remN:], data[:need])
		data = data[need:]
		bw.remN = 0

		var enc [4]byte
		base64.StdEncoding.Encode(enc[:], group[:])
		if err := bw.forward(enc[:], len(data) == 0); err != nil {
			return 0, err
		}
	}

	buf := bw.ensureBuf()
	groupsCap := (len(buf) / 4) * 3

	for len(data) >= 3 {
		n := len(data) - len(data)%3
		if n > groupsCap {
			n = groupsCap
		}
		if n == 0 {
			break
		}

		encLen := base64.StdEncoding.EncodedLen(n)
		base64.StdEncoding.Encode(buf[:encLen], data[:n])
		if _, err := bw.w.Write(buf[:encLen]); err != nil {
			return 0, errors.Wrap(err, "base64writer: failed to forward encoded bytes")
		}

		data = data[n:]
	}

	bw.remN = copy(bw.rem[:], data)

	return total, nil
}

// forward writes encoded bytes directly to the inner writer, used for the
// lone carried-over group produced at the start of Write.
func (bw *Base64Writer) forward(encoded []byte, _ bool) error {
	if _, err := bw.w.Write(encoded); err != nil {
		return errors.Wrap(err, "base64writer: failed to forward carried-over group")
	}
	return nil
}

// Flush encodes any held-over remainder (with '=' padding) and forwards it,
// returns the pooled buffer, then flushes the inner writer if it implements
// interface{ Flush() error }. Flush may be called more than once: with no
// Write in between it forwards nothing, and after further Writes it ends
// their output with its own padded group. Only the first Flush returns a
// buffer to the pool.
func (bw *Base64Writer) Flush() error {
	if bw.remN > 0 {
		enc := make([]byte, 4)
		base64.StdEncoding.Encode(enc, bw.rem[:bw.remN])
		if _, err := bw.w.Write(enc); err != nil {
			return errors.Wrap(err, "base64writer: failed to flush remainder")
		}
		bw.remN = 0
	}

	bw.release()

	if f, ok := bw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (bw *Base64Writer) release() {
	if bw.buf != nil && !bw.freed {
		bufPool.Put(bw.buf)
		bw.buf = nil
		bw.freed = true
	}
}
