package trailer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/grpcweb-core/client/grpcweb/trailer"
)

func TestParseBasic(t *testing.T) {
	md, err := trailer.Parse([]byte("grpc-status:0\r\ngrpc-message:ok\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, md.Get("grpc-status"))
	assert.Equal(t, []string{"ok"}, md.Get("grpc-message"))
}

func TestParseNoFinalNewline(t *testing.T) {
	md, err := trailer.Parse([]byte("grpc-status:0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, md.Get("grpc-status"))
}

func TestParseLowercasesNames(t *testing.T) {
	md, err := trailer.Parse([]byte("Grpc-Status: 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, md.Get("grpc-status"))
}

func TestParseTrimsWhitespace(t *testing.T) {
	md, err := trailer.Parse([]byte("grpc-status :  0  \r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, md.Get("grpc-status"))
}

func TestParseDuplicateSingleValuedIsError(t *testing.T) {
	_, err := trailer.Parse([]byte("grpc-status:0\r\ngrpc-status:1\r\n"))
	require.Error(t, err)
}

func TestParseMultiValuedCustomHeader(t *testing.T) {
	md, err := trailer.Parse([]byte("x-custom:a\r\nx-custom:b\r\n"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, md.Get("x-custom"))
}

func TestParseMalformedLine(t *testing.T) {
	_, err := trailer.Parse([]byte("not-a-header-line\r\n"))
	require.Error(t, err)
}

func TestParsePercentDecodesMessage(t *testing.T) {
	md, err := trailer.Parse([]byte("grpc-message:hello%20world%21\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world!"}, md.Get("grpc-message"))
}

func TestParsePercentDecodeFailureFallsBackToRaw(t *testing.T) {
	md, err := trailer.Parse([]byte("grpc-message:bad%zzescape\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bad%zzescape"}, md.Get("grpc-message"))
}

func TestEmitRoundTrip(t *testing.T) {
	md := metadata.Pairs("grpc-status", "0", "grpc-message", "hi there")
	block := trailer.Emit(md)

	parsed, err := trailer.Parse(block)
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, parsed.Get("grpc-status"))
	assert.Equal(t, []string{"hi there"}, parsed.Get("grpc-message"))
}

func TestEmitEscapesMessage(t *testing.T) {
	md := metadata.Pairs("grpc-message", "a\tb")
	block := trailer.Emit(md)
	assert.Contains(t, string(block), "grpc-message: a%09b")
}
