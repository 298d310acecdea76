package core

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxRooms caps the room names a Hello may list.
const MaxRooms = 1024

// Payloads use Core Deterministic Encoding so equal messages produce equal
// bytes. Unknown fields are ignored on decode.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("core: CBOR encoder initialization failed: " + err.Error())
	}

	// Header.Validate bounds the payload; these bound what a payload may
	// expand into.
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: MaxRooms,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic("core: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode returns msg as a complete frame, header included.
func Encode(msg Message) ([]byte, error) {
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}

	header, err := NewHeader(msg.Type(), uint64(len(payload))).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}

	return append(header, payload...), nil
}

func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Type(), err)
	}

	return nil
}

// ReadMessage reads exactly one frame from r. io.EOF is returned unwrapped
// when the stream ends cleanly between frames.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := header.UnmarshalBinary(buf); err != nil {
		return nil, err
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read %s payload: %w", header.Type, err)
	}

	return Decode(header.Type, payload)
}

func Decode(msgType MessageType, payload []byte) (Message, error) {
	msg := newMessage(msgType)
	if msg == nil {
		return nil, ErrInvalidType
	}

	if err := decMode.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msgType, err)
	}

	return msg, nil
}
