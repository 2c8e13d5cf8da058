package omsv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype кодека сообщений OrderService.
const CodecName = "json"

// Codec сериализует сообщения OrderService в JSON.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Marshal реализует encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("omsv1: marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal реализует encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("omsv1: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name реализует encoding.Codec.
func (Codec) Name() string { return CodecName }
