package models

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
)

// UUID is encoded as CBOR tag 37 over the 16 raw bytes. Live query ids
// arrive in this form.
type UUID struct {
	uuid.UUID
}

func NewUUID() (UUID, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return UUID{}, err
	}
	return UUID{UUID: u}, nil
}

func (u UUID) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{
		Number:  TagUUID,
		Content: u.Bytes(),
	})
}

func (u *UUID) UnmarshalCBOR(data []byte) error {
	content, ok, err := stripTag(data, TagUUID)
	if err != nil || !ok {
		return err
	}

	var b []byte
	if err := decMode.Unmarshal(content, &b); err != nil {
		return fmt.Errorf("UUID tag content must be a byte string: %w", err)
	}
	return u.setBytes(b)
}

func (u *UUID) setBytes(b []byte) error {
	if len(b) != uuid.Size {
		return fmt.Errorf("UUID must be exactly %d bytes, got %d", uuid.Size, len(b))
	}
	parsed, err := uuid.FromBytes(b)
	if err != nil {
		return fmt.Errorf("failed to parse UUID bytes: %w", err)
	}
	u.UUID = parsed
	return nil
}
