package frame_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grpcweb-core/client/grpcweb/frame"
)

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte("hi"), false))

	f, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Payload)
	assert.False(t, f.Compressed)
	assert.False(t, f.Trailer)
}

func TestReadEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, nil, false))

	f, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.Empty(t, f.Payload)
}

func TestReadCleanEOF(t *testing.T) {
	_, err := frame.Read(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadShortHeaderIsProtocolError(t *testing.T) {
	_, err := frame.Read(bytes.NewReader([]byte{0x00, 0x00, 0x00}), 0)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestReadExceedsMaxReceiveSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, make([]byte, 10), false))

	_, err := frame.Read(&buf, 5)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestTrailerFlag(t *testing.T) {
	h := frame.Header(3, false)
	h[0] |= frame.FlagTrailer
	var buf bytes.Buffer
	buf.Write(h)
	buf.WriteString("abc")

	f, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.True(t, f.Trailer)
	assert.Equal(t, []byte("abc"), f.Payload)
}

func TestCompressedFlag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte("z"), true))

	f, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.True(t, f.Compressed)
}
