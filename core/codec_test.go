package core

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCarriesMessagesInOrder(t *testing.T) {
	var buf bytes.Buffer

	sent := []Message{
		&Hello{Nickname: "alice", Rooms: []string{"global", "lan-party"}},
		&ConnectRequest{},
		&FileChunk{ID: "t1", Index: 3, Data: []byte("hello"), Size: 5, Last: true, Sum: []byte{1, 2, 3}},
		&FileCancel{ID: "t1", Reason: "file unavailable", Failed: true},
	}
	for _, msg := range sent {
		require.NoError(t, WriteMessage(&buf, msg))
	}

	for _, want := range sent {
		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(&FileAccept{ID: "x", Size: 42})
	require.NoError(t, err)
	b, err := Encode(&FileAccept{ID: "x", Size: 42})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestReadMessageTruncated(t *testing.T) {
	frame, err := Encode(&RoomMessage{Room: "global", Body: "hi there"})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "partial header", data: frame[:HeaderSize-2]},
		{name: "partial payload", data: frame[:len(frame)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestReadMessageRejectsBadFrames(t *testing.T) {
	frame, err := Encode(&PrivateMessage{Body: "psst"})
	require.NoError(t, err)

	badVersion := bytes.Clone(frame)
	badVersion[0] = 0x7f

	badType := bytes.Clone(frame)
	badType[1] = 0x7f

	tooLong, err := NewHeader(TypeFileChunk, MaxPayloadSize).MarshalBinary()
	require.NoError(t, err)
	tooLong[2] = 0xff

	garbage, err := NewHeader(TypePrivateMessage, 2).MarshalBinary()
	require.NoError(t, err)
	garbage = append(garbage, 0xff, 0xff)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "version", data: badVersion, wantErr: ErrInvalidVersion},
		{name: "type", data: badType, wantErr: ErrInvalidType},
		{name: "length", data: tooLong, wantErr: ErrPayloadTooLarge},
		{name: "payload", data: garbage, wantErr: ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	type helloV2 struct {
		Nickname string `cbor:"nickname"`
		Avatar   string `cbor:"avatar"`
	}
	payload, err := encMode.Marshal(helloV2{Nickname: "bob", Avatar: "cat"})
	require.NoError(t, err)

	msg, err := Decode(TypeHello, payload)
	require.NoError(t, err)
	assert.Equal(t, &Hello{Nickname: "bob"}, msg)
}

func TestDecodeBoundsArrays(t *testing.T) {
	rooms := make([]string, MaxRooms+1)
	for i := range rooms {
		rooms[i] = "r"
	}

	payload, err := encMode.Marshal(&Hello{Nickname: "alice", Rooms: rooms})
	require.NoError(t, err)

	_, err = Decode(TypeHello, payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	payload, err = encMode.Marshal(&Hello{Nickname: "alice", Rooms: rooms[:MaxRooms]})
	require.NoError(t, err)

	msg, err := Decode(TypeHello, payload)
	require.NoError(t, err)
	assert.Len(t, msg.(*Hello).Rooms, MaxRooms)
}
