package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known metadata keys shared by mappers and the publisher.
const (
	MetaSourceMessageID = "source_message_id"
	MetaIdempotencyKey  = "idempotency_key"
	MetaInReplyTo       = "in_reply_to"
	MetaSubject         = "subject"
	MetaDisplayName     = "display_name"
	MetaThreadID        = "thread_id"
)

type ScalarKind uint8

const (
	ScalarNull ScalarKind = iota
	ScalarString
	ScalarNumber
	ScalarBool
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarString:
		return "string"
	case ScalarNumber:
		return "number"
	case ScalarBool:
		return "bool"
	default:
		return "null"
	}
}

// Scalar is a JSON scalar: string, number, bool or null.
type Scalar struct {
	kind ScalarKind
	str  string
	num  float64
	b    bool
}

func String(v string) Scalar  { return Scalar{kind: ScalarString, str: v} }
func Number(v float64) Scalar { return Scalar{kind: ScalarNumber, num: v} }
func Bool(v bool) Scalar      { return Scalar{kind: ScalarBool, b: v} }
func Null() Scalar            { return Scalar{} }

// ScalarOf converts a Go value into a Scalar. Maps, slices and other composite
// values are rejected.
func ScalarOf(v interface{}) (Scalar, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Scalar:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Scalar{}, fmt.Errorf("invalid number %q", t.String())
		}
		return Number(f), nil
	default:
		return Scalar{}, fmt.Errorf("unsupported metadata value of type %T", v)
	}
}

func (s Scalar) Kind() ScalarKind { return s.kind }
func (s Scalar) IsNull() bool     { return s.kind == ScalarNull }

func (s Scalar) AsString() (string, bool) {
	return s.str, s.kind == ScalarString
}

func (s Scalar) AsNumber() (float64, bool) {
	return s.num, s.kind == ScalarNumber
}

func (s Scalar) AsBool() (bool, bool) {
	return s.b, s.kind == ScalarBool
}

// Interface returns the plain Go value (string, float64, bool or nil).
func (s Scalar) Interface() interface{} {
	switch s.kind {
	case ScalarString:
		return s.str
	case ScalarNumber:
		return s.num
	case ScalarBool:
		return s.b
	default:
		return nil
	}
}

// String renders the scalar the way it appears in hashes and logs.
func (s Scalar) String() string {
	switch s.kind {
	case ScalarString:
		return s.str
	case ScalarNumber:
		return strconv.FormatFloat(s.num, 'g', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(s.b)
	default:
		return ""
	}
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Interface())
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return fmt.Errorf("metadata values must be scalars")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	parsed, err := ScalarOf(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Metadata is the channel-specific passthrough bag of an envelope.
type Metadata map[string]Scalar

func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Metadata) GetString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// ToMap returns plain Go values, used by expression evaluation.
func (m Metadata) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

// MetadataFrom converts a raw map, failing on the first non-scalar value.
func MetadataFrom(raw map[string]interface{}) (Metadata, error) {
	out := make(Metadata, len(raw))
	for k, v := range raw {
		s, err := ScalarOf(v)
		if err != nil {
			return nil, fmt.Errorf("metadata.%s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
