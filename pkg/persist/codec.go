package persist

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes snapshot envelopes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names accepted by CodecByName.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

type jsonCodec struct{}

// JSON returns the encoding/json codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return CodecJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

// Msgpack returns the MessagePack codec. Snapshots are smaller than JSON and
// byte payloads are stored as binary rather than base64.
func Msgpack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string                       { return CodecMsgpack }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecByName resolves a configured codec name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON(), nil
	case CodecMsgpack:
		return Msgpack(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
