package grpcweb

import "strings"

// Family classifies a response content-type into the transport mode it
// implies: whether it is gRPC-Web at all, and whether the gRPC-Web body is
// base64-encoded text. ok is false for anything outside the three recognized
// families (application/grpc, application/grpc-web, application/grpc-web-text),
// each accepted bare or with any +<codec-name> suffix; parameters after ';'
// are ignored.
func Family(contentType string) (web bool, text bool, ok bool) {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.TrimSpace(ct)

	switch {
	case ct == "application/grpc" || strings.HasPrefix(ct, "application/grpc+"):
		return false, false, true
	case ct == "application/grpc-web" || strings.HasPrefix(ct, "application/grpc-web+"):
		return true, false, true
	case ct == "application/grpc-web-text" || strings.HasPrefix(ct, "application/grpc-web-text+"):
		return true, true, true
	default:
		return false, false, false
	}
}
