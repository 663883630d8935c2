package grpcweb

// Kind identifies the streaming shape of an RPC method.
type Kind int

const (
	// Unary is a single request, single response call.
	Unary Kind = iota
	// ClientStream is many requests, one response.
	ClientStream
	// ServerStream is one request, many responses.
	ServerStream
	// Duplex is many requests, many responses, independently paced.
	Duplex
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ClientStream:
		return "client_stream"
	case ServerStream:
		return "server_stream"
	case Duplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// ClientStreams reports whether the caller sends more than one message.
func (k Kind) ClientStreams() bool {
	return k == ClientStream || k == Duplex
}

// ServerStreams reports whether the callee sends more than one message.
func (k Kind) ServerStreams() bool {
	return k == ServerStream || k == Duplex
}

// Method describes an RPC method being invoked: its wire name and streaming
// shape. Marshalling is delegated to the codec selected by CallOptions
// (google.golang.org/grpc/encoding.CodecV2), an opaque serializer/
// deserializer collaborator.
type Method struct {
	FullName string
	Kind     Kind
}
