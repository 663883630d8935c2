package grpcweb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestRawCodecRoundTrip(t *testing.T) {
	codec := encoding.GetCodecV2(rawCodecName)
	require.NotNil(t, codec)

	in := []byte("hello")
	buf, err := codec.Marshal(&in)
	require.NoError(t, err)

	var out []byte
	require.NoError(t, codec.Unmarshal(buf, &out))
	require.Equal(t, in, out)
}

func TestRawCodecRejectsWrongType(t *testing.T) {
	codec := rawCodec{}

	_, err := codec.Marshal("not a *[]byte")
	require.Error(t, err)

	err = codec.Unmarshal(nil, &struct{}{})
	require.Error(t, err)
}
