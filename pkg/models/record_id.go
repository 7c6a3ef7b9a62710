package models

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// RecordID is a SurrealDB record id, encoded as CBOR tag 8 [table, id].
type RecordID struct {
	Table string
	ID    any
}

func NewRecordID(table string, id any) RecordID {
	return RecordID{Table: table, ID: id}
}

// ParseRecordID parses "table:id". The id part is kept as a string.
func ParseRecordID(s string) (RecordID, error) {
	table, id, ok := strings.Cut(s, ":")
	if !ok || table == "" || id == "" {
		return RecordID{}, fmt.Errorf("invalid record id %q: expected table:id", s)
	}
	return RecordID{Table: table, ID: strings.Trim(id, "⟨⟩`")}, nil
}

// Key returns the id part as a string.
func (r RecordID) Key() string {
	if s, ok := r.ID.(string); ok {
		return s
	}
	return fmt.Sprint(r.ID)
}

func (r RecordID) String() string {
	return r.Table + ":" + r.Key()
}

func (r RecordID) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{
		Number:  TagRecordID,
		Content: []any{r.Table, r.ID},
	})
}

func (r *RecordID) UnmarshalCBOR(data []byte) error {
	content, ok, err := stripTag(data, TagRecordID)
	if err != nil || !ok {
		return err
	}

	var parts []any
	if err := decMode.Unmarshal(content, &parts); err != nil {
		var s string
		if err2 := decMode.Unmarshal(content, &s); err2 != nil {
			return err
		}
		parsed, err := ParseRecordID(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	if len(parts) != 2 {
		return fmt.Errorf("record id must have 2 parts, got %d", len(parts))
	}

	table, ok := parts[0].(string)
	if !ok {
		return fmt.Errorf("record id table must be a string, got %T", parts[0])
	}
	*r = RecordID{Table: table, ID: Normalize(parts[1])}
	return nil
}
