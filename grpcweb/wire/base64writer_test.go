package wire_test

import (
	"bytes"
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grpcweb-core/client/grpcweb/wire"
)

func TestBase64WriterThreeChunkStreaming(t *testing.T) {
	var out bytes.Buffer
	bw := wire.NewBase64Writer(&out)

	_, err := bw.Write([]byte{0x66})
	require.NoError(t, err)
	_, err = bw.Write([]byte{0x6f, 0x6f})
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	assert.Equal(t, "Zm9v", out.String())
}

func TestBase64WriterPartialFlush(t *testing.T) {
	var out bytes.Buffer
	bw := wire.NewBase64Writer(&out)

	_, err := bw.Write([]byte{0x66, 0x6f})
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	assert.Equal(t, "Zm8=", out.String())
}

func TestBase64WriterEmptyFlush(t *testing.T) {
	var out bytes.Buffer
	bw := wire.NewBase64Writer(&out)
	require.NoError(t, bw.Flush())
	assert.Empty(t, out.String())
}

func TestBase64WriterMatchesStdlibAcrossChunkings(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		data := make([]byte, r.Intn(9000))
		r.Read(data)

		var out bytes.Buffer
		bw := wire.NewBase64Writer(&out)

		pos := 0
		for pos < len(data) {
			n := 1 + r.Intn(17)
			if pos+n > len(data) {
				n = len(data) - pos
			}
			_, err := bw.Write(data[pos : pos+n])
			require.NoError(t, err)
			pos += n
		}
		require.NoError(t, bw.Flush())

		assert.Equal(t, base64.StdEncoding.EncodeToString(data), out.String())
	}
}

func TestBase64WriterLargeSingleWrite(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i)
	}

	var out bytes.Buffer
	bw := wire.NewBase64Writer(&out)
	_, err := bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	assert.Equal(t, base64.StdEncoding.EncodeToString(data), out.String())
}
