package build

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Marshaler converts keys or values to and from their serialized off-heap
// form. Implementations must be safe for concurrent use.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// MarshalerFor resolves the built-in marshaler for a type descriptor.
func MarshalerFor(descriptor string) (Marshaler, bool) {
	switch descriptor {
	case "string":
		return stringMarshaler{}, true
	case "bytes":
		return bytesMarshaler{}, true
	case "int64", "integer", "int":
		return int64Marshaler{}, true
	case "uint64":
		return uint64Marshaler{}, true
	case "float64":
		return float64Marshaler{}, true
	case "json":
		return JSONMarshaler{}, true
	}
	return nil, false
}

type stringMarshaler struct{}

func (stringMarshaler) Marshal(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string marshaler: cannot serialize %T", v)
	}
	return []byte(s), nil
}

func (stringMarshaler) Unmarshal(data []byte) (any, error) {
	return string(data), nil
}

type bytesMarshaler struct{}

func (bytesMarshaler) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("bytes marshaler: cannot serialize %T", v)
}

func (bytesMarshaler) Unmarshal(data []byte) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

type int64Marshaler struct{}

func (int64Marshaler) Marshal(v any) ([]byte, error) {
	var n int64
	switch i := v.(type) {
	case int64:
		n = i
	case int:
		n = int64(i)
	case int32:
		n = int64(i)
	default:
		return nil, fmt.Errorf("int64 marshaler: cannot serialize %T", v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf, nil
}

func (int64Marshaler) Unmarshal(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("int64 marshaler: want 8 bytes, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

type uint64Marshaler struct{}

func (uint64Marshaler) Marshal(v any) ([]byte, error) {
	var n uint64
	switch i := v.(type) {
	case uint64:
		n = i
	case uint:
		n = uint64(i)
	default:
		return nil, fmt.Errorf("uint64 marshaler: cannot serialize %T", v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf, nil
}

func (uint64Marshaler) Unmarshal(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("uint64 marshaler: want 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

type float64Marshaler struct{}

func (float64Marshaler) Marshal(v any) ([]byte, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return nil, fmt.Errorf("float64 marshaler: cannot serialize %T", v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf, nil
}

func (float64Marshaler) Unmarshal(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("float64 marshaler: want 8 bytes, got %d", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

// JSONMarshaler is the generic object serializer: loosely typed and
// nullable, for key or value types without a dedicated marshaler.
type JSONMarshaler struct{}

// Marshal serializes any JSON-encodable value.
func (JSONMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes into the generic JSON shape (map[string]any,
// []any, string, float64, bool or nil).
func (JSONMarshaler) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
