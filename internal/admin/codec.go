package admin

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec replaces grpc's default protobuf codec with plain JSON, since
// no protobuf compiler runs in this environment to generate wire types for
// the introspection messages below.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
