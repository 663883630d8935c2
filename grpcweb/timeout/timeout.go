// Package timeout encodes and decodes the grpc-timeout header.
package timeout

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// unit is one of the single-byte suffixes gRPC recognizes for grpc-timeout,
// ordered from the finest to the coarsest grain.
type unit struct {
	suffix byte
	size   time.Duration
}

// units is ordered finest-first so Encode can pick the smallest one that
// keeps the value under maxDigits digits.
var units = []unit{
	{'n', time.Nanosecond},
	{'u', time.Microsecond},
	{'m', time.Millisecond},
	{'S', time.Second},
	{'M', time.Minute},
	{'H', time.Hour},
}

// maxDigits is the most decimal digits a grpc-timeout value may have before
// the encoder must move to a coarser unit.
const maxDigits = 8

// maxValue is the largest value that fits in maxDigits digits.
const maxValue = 99999999

// Encode renders d as a grpc-timeout value, choosing the finest unit whose
// rounded-up value still fits in maxDigits decimal digits. Non-positive
// durations round up to 1 nanosecond so the header is never empty or zero.
func Encode(d time.Duration) string {
	if d <= 0 {
		d = time.Nanosecond
	}

	for _, u := range units {
		v := divCeil(d, u.size)
		if v <= maxValue {
			return strconv.FormatInt(v, 10) + string(u.suffix)
		}
	}

	// Unreachable in practice: even time.Duration's max value fits in hours
	// within maxDigits. Fall back to the coarsest unit, truncated.
	last := units[len(units)-1]
	return strconv.FormatInt(maxValue, 10) + string(last.suffix)
}

// Decode parses a grpc-timeout value. It fails with a codes.InvalidArgument
// status wrapping ErrMalformed on any input that doesn't match
// /[0-9]{1,8}[HMSmun]/ or whose numeric part is not strictly positive.
func Decode(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, malformedf("timeout %q too short", s)
	}

	digits, suffix := s[:len(s)-1], s[len(s)-1]
	if len(digits) > maxDigits {
		return 0, malformedf("timeout %q has more than %d digits", s, maxDigits)
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, malformedf("timeout %q is not numeric", s)
		}
	}

	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, malformedf("timeout %q: %s", s, err)
	}
	if v <= 0 {
		return 0, malformedf("timeout %q must be strictly positive", s)
	}

	for _, u := range units {
		if u.suffix == suffix {
			return time.Duration(v) * u.size, nil
		}
	}

	return 0, malformedf("timeout %q has unknown unit %q", s, string(suffix))
}

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed grpc-timeout value")

// malformedError is an InvalidArgument status that still satisfies
// errors.Is(err, ErrMalformed), so callers can either branch on the status
// code or on the sentinel.
type malformedError struct {
	msg string
}

func malformedf(format string, args ...any) error {
	return &malformedError{msg: fmt.Sprintf(format, args...)}
}

func (e *malformedError) Error() string { return e.msg + ": " + ErrMalformed.Error() }

func (e *malformedError) Unwrap() error { return ErrMalformed }

func (e *malformedError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

func divCeil(d, unit time.Duration) int64 {
	return int64((d + unit - 1) / unit)
}
