// Package raftrpc carries the engine's wire messages (internal/raft's
// plain Go structs, not protoc-generated types — see DESIGN.md
// "Hand-authored protobuf") over a real google.golang.org/grpc
// connection.
package raftrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName must match the name grpc negotiates in the Content-Type
// header; registering under "proto" (grpc's built-in default) means
// every grpc.Server/ClientConn in this module carries these messages
// without any per-call codec option.
const codecName = "proto"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec. It marshals with encoding/json
// rather than a real protobuf wire encoder because the modern
// google.golang.org/protobuf runtime's generated types cannot be
// hand-authored without running protoc (see DESIGN.md); grpc, the
// service definitions, and streaming semantics are otherwise exactly
// what a protoc-gen-go-grpc build would produce.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: marshal: %w", err)
	}
	return out, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("raftrpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
