// Package codec defines the marshaling contracts shared by the wire
// transports, plus the JSON codec used for HTTP bodies and backup files.
package codec

import (
	"io"

	json "github.com/goccy/go-json"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// JSON implements Marshaler and Unmarshaler on top of goccy/go-json.
// When Indent is non-empty, Marshal and encoders pretty-print.
type JSON struct {
	Indent string
}

func (c JSON) Marshal(v any) ([]byte, error) {
	if c.Indent != "" {
		return json.MarshalIndent(v, "", c.Indent)
	}
	return json.Marshal(v)
}

func (c JSON) NewEncoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}
	return enc
}

func (c JSON) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

func (c JSON) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}
