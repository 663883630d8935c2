// Package grpcweb is the client side of a gRPC-Web transport: it drives a
// plain HTTP client (or, for legacy proxies, a WebSocket bridge) using the
// gRPC-Web wire format instead of raw HTTP/2 gRPC framing, so a gRPC service
// can be called from any environment that only offers a standard HTTP
// client.
//
// A ClientConn is built with NewClient and used through Invoke (unary calls)
// or NewStream (client-streaming, server-streaming, and duplex calls). Both
// accept the same DialOption/CallOption surface used to configure TLS,
// deadlines, metadata, and the wire codec.
package grpcweb
