package rpc

import (
	"reflect"

	"emperror.dev/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// Codec turns messages into bytes and back. A slot and its worker always
// share the same codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string                         { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// CBOR encodes messages with Core Deterministic Encoding.
var CBOR Codec

func init() {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
	CBOR = cborCodec{enc: enc, dec: dec}
}

// CodecByName returns the codec registered under name. An empty name selects
// JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, errors.Errorf("rpc: unknown codec %q", name)
}

// RequestJSON serializes req as JSON regardless of the codec in use, for
// embedding in error responses.
func RequestJSON(req Request) string {
	b, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	return string(b)
}
