package utils

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MarshalMsgpack serializes v as a MessagePack blob.
func MarshalMsgpack(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// UnmarshalMsgpack parses a MessagePack blob into v.
func UnmarshalMsgpack(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
