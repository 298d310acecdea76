package core

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize = 12

	// MaxPayloadSize bounds a single frame body. A chunk plus its CBOR
	// envelope stays far below this.
	MaxPayloadSize uint64 = 4 * 1024 * 1024

	Version uint8 = 0x01
	VERSION       = "1.0"
)

var (
	ErrInvalidVersion    = errors.New("invalid version")
	ErrInvalidType       = errors.New("invalid type")
	ErrReservedFieldUsed = errors.New("reserved field must be zero")
	ErrPayloadTooLarge   = errors.New("payload exceeds maximum size")
	ErrInvalidHeaderSize = errors.New("header data too small")
	ErrMalformedPayload  = errors.New("malformed payload")
)

// Header precedes every frame on a peer stream (12 bytes).
type Header struct {
	Version  uint8       // 1 byte
	Type     MessageType // 1 byte
	Length   uint64      // 8 bytes, payload length
	Reserved uint16      // 2 bytes
}

func NewHeader(msgType MessageType, length uint64) *Header {
	return &Header{
		Version: Version,
		Type:    msgType,
		Length:  length,
	}
}

// MarshalBinary encodes the header in network byte order.
func (h *Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("header validation failed: %w", err)
	}

	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	binary.BigEndian.PutUint64(buf[2:10], h.Length)
	binary.BigEndian.PutUint16(buf[10:12], h.Reserved)

	return buf, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrInvalidHeaderSize
	}

	h.Version = data[0]
	h.Type = MessageType(data[1])
	h.Length = binary.BigEndian.Uint64(data[2:10])
	h.Reserved = binary.BigEndian.Uint16(data[10:12])

	if err := h.Validate(); err != nil {
		return fmt.Errorf("header validation failed: %w", err)
	}

	return nil
}

func (h *Header) Validate() error {
	if h.Version != Version {
		return ErrInvalidVersion
	}

	if h.Length > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	if !h.Type.Valid() {
		return ErrInvalidType
	}

	if h.Reserved != 0 {
		return ErrReservedFieldUsed
	}

	return nil
}
