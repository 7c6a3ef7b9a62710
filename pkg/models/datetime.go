package models

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DateTime is a timestamp in SurrealDB's compact form, CBOR tag 12
// [seconds, nanoseconds]. The zero value encodes as NONE.
type DateTime struct {
	time.Time
}

func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

func (d DateTime) MarshalCBOR() ([]byte, error) {
	if d.IsZero() {
		return encMode.Marshal(cbor.Tag{Number: TagNone, Content: nil})
	}

	return encMode.Marshal(cbor.Tag{
		Number:  TagDatetime,
		Content: [2]int64{d.Unix(), int64(d.Nanosecond())},
	})
}

func (d *DateTime) UnmarshalCBOR(data []byte) error {
	content, ok, err := stripTag(data, TagDatetime)
	if err != nil {
		return err
	}
	if !ok {
		*d = DateTime{}
		return nil
	}

	var parts [2]int64
	if err := decMode.Unmarshal(content, &parts); err != nil {
		return err
	}
	*d = DateTime{Time: time.Unix(parts[0], parts[1]).UTC()}
	return nil
}
