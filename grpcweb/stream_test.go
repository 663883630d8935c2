package grpcweb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/grpcweb-core/client/grpcweb/frame"
)

var serverStreamDesc = &grpc.StreamDesc{ServerStreams: true}
var clientStreamDesc = &grpc.StreamDesc{ClientStreams: true}
var duplexStreamDesc = &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}

func TestNewStreamRejectsUnary(t *testing.T) {
	conn, err := NewClient("example.com", WithInsecure())
	require.NoError(t, err)

	_, err = conn.NewStream(context.Background(), &grpc.StreamDesc{}, "/pkg.Service/Unary")
	require.ErrorIs(t, err, ErrNotAStreamingRequest)
}

func TestServerStreamMultipleMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/grpc-web+raw")
		w.WriteHeader(http.StatusOK)
		writeMessageFrame(t, w, []byte("one"))
		writeMessageFrame(t, w, []byte("two"))
		writeTrailerFrame(t, w, metadata.MD{"grpc-status": []string{"0"}})
	}))
	defer srv.Close()

	conn, err := NewClient(hostOf(t, srv), WithInsecure())
	require.NoError(t, err)

	s, err := conn.NewStream(context.Background(), serverStreamDesc, "/pkg.Service/List", CallContentSubtype("raw"))
	require.NoError(t, err)

	req := []byte("ping")
	require.NoError(t, s.SendMsg(&req))

	var got []string
	for {
		var msg []byte
		err := s.RecvMsg(&msg)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(msg))
	}

	require.Equal(t, []string{"one", "two"}, got)
}

func TestClientStreamMultipleSends(t *testing.T) {
	var receivedFrames []frame.Frame
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		for {
			f, err := frame.Read(r.Body, 0)
			if err != nil {
				break
			}
			receivedFrames = append(receivedFrames, f)
		}

		w.Header().Set("content-type", "application/grpc-web+raw")
		w.WriteHeader(http.StatusOK)
		writeMessageFrame(t, w, []byte("done"))
		writeTrailerFrame(t, w, metadata.MD{"grpc-status": []string{"0"}})
	}))
	defer srv.Close()

	conn, err := NewClient(hostOf(t, srv), WithInsecure())
	require.NoError(t, err)

	s, err := conn.NewStream(context.Background(), clientStreamDesc, "/pkg.Service/Sum", CallContentSubtype("raw"))
	require.NoError(t, err)

	req1, req2 := []byte("a"), []byte("bb")
	require.NoError(t, s.SendMsg(&req1))
	require.NoError(t, s.SendMsg(&req2))
	require.NoError(t, s.CloseSend())

	var reply []byte
	err = s.RecvMsg(&reply)
	require.NoError(t, err)
	require.Equal(t, "done", string(reply))

	// The response was only written after the handler finished draining the
	// request body, so by the time RecvMsg returned, receivedFrames is safe
	// to inspect.
	require.Len(t, receivedFrames, 2)
	require.Equal(t, "a", string(receivedFrames[0].Payload))
	require.Equal(t, "bb", string(receivedFrames[1].Payload))
}

func TestDuplexStreamRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_, _ = io.Copy(io.Discard, r.Body)

		w.Header().Set("content-type", "application/grpc-web+raw")
		w.WriteHeader(http.StatusOK)
		writeMessageFrame(t, w, []byte("reply"))
		writeTrailerFrame(t, w, metadata.MD{"grpc-status": []string{"0"}})
	}))
	defer srv.Close()

	conn, err := NewClient(hostOf(t, srv), WithInsecure())
	require.NoError(t, err)

	s, err := conn.NewStream(context.Background(), duplexStreamDesc, "/pkg.Service/Chat", CallContentSubtype("raw"))
	require.NoError(t, err)

	req := []byte("hi")
	require.NoError(t, s.SendMsg(&req))
	require.NoError(t, s.CloseSend())

	var reply []byte
	require.NoError(t, s.RecvMsg(&reply))
	require.Equal(t, "reply", string(reply))

	err = s.RecvMsg(&reply)
	require.ErrorIs(t, err, io.EOF)
}
