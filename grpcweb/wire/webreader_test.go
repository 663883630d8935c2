package wire_test

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grpcweb-core/client/grpcweb/frame"
	"github.com/grpcweb-core/client/grpcweb/wire"
)

func buildBody(t *testing.T, messages [][]byte, trailerBlock []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range messages {
		require.NoError(t, frame.Write(&buf, m, false))
	}
	h := frame.Header(len(trailerBlock), false)
	h[0] |= frame.FlagTrailer
	buf.Write(h)
	buf.Write(trailerBlock)
	return buf.Bytes()
}

func TestWebReaderMessageThenTrailer(t *testing.T) {
	body := buildBody(t, [][]byte{{0xaa, 0xbb}}, []byte("grpc-status:0\r\ngrpc-message:ok\r\n"))

	wr := wire.NewWebReader(bytes.NewReader(body), false, 0)

	msg, err := wr.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, msg)

	_, err = wr.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"0"}, wr.Trailers().Get("grpc-status"))
	assert.Equal(t, []string{"ok"}, wr.Trailers().Get("grpc-message"))
	assert.True(t, wr.Done())
}

func TestWebReaderTextMode(t *testing.T) {
	raw := buildBody(t, [][]byte{[]byte("hi")}, []byte("grpc-status:0\r\n"))
	encoded := base64.StdEncoding.EncodeToString(raw)

	wr := wire.NewWebReader(bytes.NewReader([]byte(encoded)), true, 0)

	msg, err := wr.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), msg)

	_, err = wr.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"0"}, wr.Trailers().Get("grpc-status"))
}

func TestWebReaderMultipleMessages(t *testing.T) {
	body := buildBody(t, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}, []byte("grpc-status:0\r\n"))

	wr := wire.NewWebReader(bytes.NewReader(body), false, 0)

	var got [][]byte
	for {
		msg, err := wr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, msg)
	}

	assert.Equal(t, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}, got)
}

func TestWebReaderMissingTrailerFrameIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte("hi"), false))

	wr := wire.NewWebReader(&buf, false, 0)

	_, err := wr.Next()
	require.NoError(t, err)

	_, err = wr.Next()
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestWebReaderDataAfterTrailerIsProtocolError(t *testing.T) {
	body := buildBody(t, nil, []byte("grpc-status:0\r\n"))
	body = append(body, 0x01)

	wr := wire.NewWebReader(bytes.NewReader(body), false, 0)

	_, err := wr.Next()
	require.ErrorIs(t, err, io.EOF)

	err = func() error {
		_, err := wr.Next()
		return err
	}()
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestWebReaderExceedsMaxReceiveSize(t *testing.T) {
	body := buildBody(t, [][]byte{make([]byte, 100)}, []byte("grpc-status:0\r\n"))

	wr := wire.NewWebReader(bytes.NewReader(body), false, 10)
	_, err := wr.Next()
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
