package grpcweb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UsageError reports a programmer mistake (writing after Complete, a non-UTC
// deadline, a second SendMsg on a non-client-streaming method) rather than
// an RPC failure. It is never a *status.Status. Reading trailers before the
// call finished is not reported as one: Trailers returns nil instead.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &UsageError{msg: "grpcweb: " + fmt.Sprintf(format, args...)}
}

// statusFromTrailers builds a *status.Status from grpc-status/grpc-message
// trailers. A missing grpc-status is treated as a protocol error (Internal).
func statusFromTrailers(md metadata.MD) *status.Status {
	codeStrs := md.Get("grpc-status")
	if len(codeStrs) == 0 {
		return status.New(codes.Internal, "grpcweb: response trailers are missing grpc-status")
	}

	c, err := strconv.ParseUint(codeStrs[0], 10, 32)
	if err != nil {
		return status.New(codes.Unknown, "grpcweb: unparsable grpc-status "+codeStrs[0])
	}

	var msg string
	if msgs := md.Get("grpc-message"); len(msgs) > 0 {
		msg = msgs[0]
	}

	return status.New(codes.Code(c), msg)
}

// statusFromCancellation maps a context error observed by a suspended
// operation to the gRPC status it should surface as: DeadlineExceeded when
// the internal deadline fired, Cancelled otherwise.
func statusFromCancellation(deadlineReached bool, ctxErr error) *status.Status {
	if deadlineReached || errors.Is(ctxErr, context.DeadlineExceeded) {
		return status.New(codes.DeadlineExceeded, "Deadline Exceeded")
	}
	return status.New(codes.Cancelled, "Cancelled")
}

// statusFromTransportError maps a transport-level failure to Unavailable,
// unless the deadline had already fired, in which case DeadlineExceeded
// takes precedence.
func statusFromTransportError(deadlineReached bool, err error) *status.Status {
	if deadlineReached {
		return status.New(codes.DeadlineExceeded, "Deadline Exceeded")
	}
	return status.New(codes.Unavailable, err.Error())
}
