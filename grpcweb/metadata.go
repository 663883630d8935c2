package grpcweb

import (
	"encoding/base64"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// binarySuffix marks a header name as carrying a base64-encoded byte value,
// per the gRPC wire spec.
const binarySuffix = "-bin"

// isBinaryHeader reports whether name (already lower-cased) carries a binary
// value.
func isBinaryHeader(name string) bool {
	return strings.HasSuffix(name, binarySuffix)
}

// encodeBinaryHeader base64-encodes v for transmission in a -bin header.
func encodeBinaryHeader(v []byte) string {
	return base64.StdEncoding.EncodeToString(v)
}

// decodeBinaryHeader reverses encodeBinaryHeader, tolerating both padded and
// unpadded input as real-world gRPC-Web peers emit either.
func decodeBinaryHeader(v string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(v)
}

// headersToMetadata converts HTTP response headers into gRPC metadata,
// decoding -bin values and lower-casing names.
func headersToMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		name := strings.ToLower(k)
		for _, v := range vs {
			if isBinaryHeader(name) {
				if decoded, err := decodeBinaryHeader(v); err == nil {
					v = string(decoded)
				}
			}
			md[name] = append(md[name], v)
		}
	}
	return md
}

// applyOutgoingHeaders copies caller-supplied metadata onto an HTTP request,
// skipping grpc-timeout (which the call computes itself) and base64-encoding
// -bin values.
func applyOutgoingHeaders(h http.Header, md metadata.MD) {
	for k, vs := range md {
		name := strings.ToLower(k)
		if name == "grpc-timeout" {
			continue
		}
		for _, v := range vs {
			if isBinaryHeader(name) {
				v = encodeBinaryHeader([]byte(v))
			}
			h.Add(name, v)
		}
	}
}
