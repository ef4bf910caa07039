package gateway

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered against grpc's global codec registry so
// streams whose content-subtype is "json" are marshaled with it instead
// of the default proto codec, matching the teacher's own grpc.Dial call
// shape in wireguard.go while avoiding a protoc-generated
// wireguardrpc/pb dependency this exercise cannot regenerate.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
