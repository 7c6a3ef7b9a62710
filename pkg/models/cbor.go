package models

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/driftnote/driftnote/internal/codec"
)

// CBOR tag numbers used by the SurrealDB wire protocol.
const (
	TagNone     uint64 = 6
	TagTable    uint64 = 7
	TagRecordID uint64 = 8
	TagDatetime uint64 = 12
	TagUUID     uint64 = 37
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		TimeTagToAny:   cbor.TimeTagToTime,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// CborMarshaler encodes values for the SurrealDB RPC protocol.
type CborMarshaler struct{}

func (CborMarshaler) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return encMode.NewEncoder(w)
}

// CborUnmarshaler decodes RPC payloads. Maps decode as map[string]any;
// SurrealDB tags decode as cbor.Tag and are lifted by Normalize.
type CborUnmarshaler struct{}

func (CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	return decMode.Unmarshal(data, dst)
}

func (CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return decMode.NewDecoder(r)
}

// Normalize walks a decoded CBOR value and replaces SurrealDB tagged
// values with their Go types: RecordID, time.Time, UUID, or nil for NONE.
func Normalize(v any) any {
	switch val := v.(type) {
	case cbor.Tag:
		return normalizeTag(val)
	case map[string]any:
		for k, item := range val {
			val[k] = Normalize(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if s, ok := k.(string); ok {
				out[s] = Normalize(item)
			}
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = Normalize(item)
		}
		return val
	default:
		return v
	}
}

func normalizeTag(tag cbor.Tag) any {
	switch tag.Number {
	case TagNone:
		return nil
	case TagRecordID:
		if parts, ok := tag.Content.([]any); ok && len(parts) == 2 {
			table, _ := parts[0].(string)
			return RecordID{Table: table, ID: Normalize(parts[1])}
		}
		if s, ok := tag.Content.(string); ok {
			if id, err := ParseRecordID(s); err == nil {
				return id
			}
		}
	case TagDatetime:
		if parts, ok := tag.Content.([]any); ok && len(parts) == 2 {
			return time.Unix(toInt64(parts[0]), toInt64(parts[1])).UTC()
		}
	case TagUUID:
		if b, ok := tag.Content.([]byte); ok {
			var u UUID
			if err := u.setBytes(b); err == nil {
				return u
			}
		}
	case TagTable:
		if s, ok := tag.Content.(string); ok {
			return s
		}
	}
	return tag
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n) //nolint:gosec // datetime parts fit in int64
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// stripTag returns the content of a CBOR tag with the expected number.
// ok is false for NONE.
func stripTag(data []byte, want uint64) (content cbor.RawMessage, ok bool, err error) {
	var raw cbor.RawTag
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}
	if raw.Number == TagNone {
		return nil, false, nil
	}
	if raw.Number != want {
		return nil, false, fmt.Errorf("unexpected tag number: got %d, want %d", raw.Number, want)
	}
	return raw.Content, true, nil
}
