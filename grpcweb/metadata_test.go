package grpcweb

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestEncodeDecodeBinaryHeader(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10, 0x20}
	encoded := encodeBinaryHeader(raw)

	decoded, err := decodeBinaryHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestDecodeBinaryHeaderUnpadded(t *testing.T) {
	raw := []byte("x")
	encoded := encodeBinaryHeader(raw)
	unpadded := encoded[:len(encoded)-2] // drop both trailing '='

	decoded, err := decodeBinaryHeader(unpadded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestHeadersToMetadata(t *testing.T) {
	h := http.Header{}
	h.Set("Grpc-Message", "ok")
	h.Set("X-Custom-Bin", encodeBinaryHeader([]byte{1, 2, 3}))

	md := headersToMetadata(h)

	require.Equal(t, []string{"ok"}, md.Get("grpc-message"))
	require.Equal(t, []string{string([]byte{1, 2, 3})}, md.Get("x-custom-bin"))
}

func TestApplyOutgoingHeaders(t *testing.T) {
	h := make(http.Header)
	md := metadata.MD{
		"grpc-timeout": []string{"1S"},
		"x-trace-bin":  []string{string([]byte{9, 9})},
		"x-plain":      []string{"v"},
	}

	applyOutgoingHeaders(h, md)

	require.Empty(t, h.Get("grpc-timeout"), "grpc-timeout is computed by the call, not copied")
	require.Equal(t, "v", h.Get("x-plain"))

	decoded, err := decodeBinaryHeader(h.Get("x-trace-bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, decoded)
}
