package grpcweb

import (
	"bytes"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"
)

// rawCodecName is the content-subtype registered for rawCodec.
const rawCodecName = "raw"

// rawCodec passes message bytes through untouched. It lets callers that
// don't have generated protobuf types (a debug harness, a generic proxy)
// drive a call with bytes they've already encoded themselves; both args and
// reply must be *[]byte.
type rawCodec struct{}

func (rawCodec) Marshal(v any) (mem.BufferSlice, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("grpcweb: raw codec requires *[]byte, got %T", v)
	}
	return mem.BufferSlice{mem.NewBuffer(b, nil)}, nil
}

func (rawCodec) Unmarshal(data mem.BufferSlice, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpcweb: raw codec requires *[]byte, got %T", v)
	}

	var buf bytes.Buffer
	buf.Grow(data.Len())
	if _, err := buf.ReadFrom(data.Reader()); err != nil {
		return fmt.Errorf("grpcweb: raw codec failed to drain buffer: %w", err)
	}
	*b = buf.Bytes()
	return nil
}

func (rawCodec) Name() string {
	return rawCodecName
}

func init() {
	encoding.RegisterCodecV2(rawCodec{})
}
