// Package trailer parses and emits the HTTP/1-style header blocks gRPC-Web
// uses to carry trailers inside the response body, and percent-decodes
// grpc-message.
package trailer

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"
)

// singleValued lists the trailer names that may appear at most once in a
// block; a second occurrence is a parse error.
var singleValued = map[string]bool{
	"grpc-status":  true,
	"grpc-message": true,
}

// Parse decodes an ASCII, CRLF-delimited HTTP/1-style header block into
// metadata. Names are trimmed and lower-cased; grpc-message is percent
// decoded. A final empty line is not required.
func Parse(block []byte) (metadata.MD, error) {
	md := metadata.MD{}

	for _, line := range splitLines(block) {
		if len(line) == 0 {
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errors.Errorf("trailer: malformed line %q, missing ':'", line)
		}

		name := strings.ToLower(strings.Trim(line[:idx], " \t"))
		value := strings.Trim(line[idx+1:], " \t")

		if name == "" {
			return nil, errors.New("trailer: empty header name")
		}

		if singleValued[name] && len(md[name]) > 0 {
			return nil, errors.Errorf("trailer: duplicate single-valued trailer %q", name)
		}

		if name == "grpc-message" {
			value = decodeMessage(value)
		}

		md[name] = append(md[name], value)
	}

	return md, nil
}

// splitLines splits on CRLF (tolerating a bare LF) without requiring a
// trailing terminator.
func splitLines(block []byte) []string {
	s := string(block)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// Emit renders md back into the wire block format Parse accepts, in
// lexically sorted key order for determinism.
func Emit(md metadata.MD) []byte {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range md[k] {
			if k == "grpc-message" {
				v = encodeMessage(v)
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return []byte(b.String())
}

// decodeMessage percent-decodes a grpc-message value. Decoding failures (a
// malformed %XX escape, or bytes that don't form valid UTF-8 once decoded)
// fall back to returning the raw, undecoded value as a best effort per the
// trailer codec's contract.
func decodeMessage(s string) string {
	decoded, ok := percentDecode(s)
	if !ok {
		return s
	}
	if !utf8.ValidString(decoded) {
		return s
	}
	return decoded
}

func percentDecode(s string) (string, bool) {
	if !strings.ContainsRune(s, '%') {
		return s, true
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		hi, ok1 := hexDigit(s[i+1])
		lo, ok2 := hexDigit(s[i+2])
		if !ok1 || !ok2 {
			return "", false
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}

	return b.String(), true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// encodeMessage percent-encodes a grpc-message value for emission, escaping
// everything outside the unreserved ASCII printable range.
func encodeMessage(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '%' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexUpper(c >> 4))
		b.WriteByte(hexUpper(c & 0x0f))
	}
	return b.String()
}

func hexUpper(n byte) byte {
	const digits = "0123456789ABCDEF"
	return digits[n]
}
