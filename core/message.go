package core

import "fmt"

type MessageType uint8

const (
	TypeHello       MessageType = 0x01
	TypeRoomMessage MessageType = 0x02
	TypeRoomJoin    MessageType = 0x03
	TypeRoomLeave   MessageType = 0x04

	TypeConnectRequest MessageType = 0x10
	TypeConnectAccept  MessageType = 0x11
	TypeConnectReject  MessageType = 0x12
	TypeSessionLeave   MessageType = 0x13
	TypePrivateMessage MessageType = 0x14

	TypeFileRequest  MessageType = 0x20
	TypeFileAccept   MessageType = 0x21
	TypeFileReject   MessageType = 0x22
	TypeFileChunk    MessageType = 0x23
	TypeFileComplete MessageType = 0x24
	TypeFileCancel   MessageType = 0x25
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeRoomMessage:
		return "room_message"
	case TypeRoomJoin:
		return "room_join"
	case TypeRoomLeave:
		return "room_leave"
	case TypeConnectRequest:
		return "connect_request"
	case TypeConnectAccept:
		return "connect_accept"
	case TypeConnectReject:
		return "connect_reject"
	case TypeSessionLeave:
		return "session_leave"
	case TypePrivateMessage:
		return "private_message"
	case TypeFileRequest:
		return "file_request"
	case TypeFileAccept:
		return "file_accept"
	case TypeFileReject:
		return "file_reject"
	case TypeFileChunk:
		return "file_chunk"
	case TypeFileComplete:
		return "file_complete"
	case TypeFileCancel:
		return "file_cancel"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

func (t MessageType) Valid() bool {
	return newMessage(t) != nil
}

// Message is a decoded frame payload.
type Message interface {
	Type() MessageType
}

type Hello struct {
	Nickname string   `cbor:"nickname"`
	Rooms    []string `cbor:"rooms"`
}

type RoomMessage struct {
	Room string `cbor:"room"`
	Body string `cbor:"body"`
}

type RoomJoin struct {
	Room string `cbor:"room"`
}

type RoomLeave struct {
	Room string `cbor:"room"`
}

type ConnectRequest struct{}

type ConnectAccept struct{}

type ConnectReject struct {
	Reason string `cbor:"reason,omitempty"`
}

type SessionLeave struct{}

type PrivateMessage struct {
	Body string `cbor:"body"`
}

type FileRequest struct {
	ID       string `cbor:"id"`
	Filename string `cbor:"filename"`
}

type FileAccept struct {
	ID   string `cbor:"id"`
	Size uint64 `cbor:"size"`
}

type FileReject struct {
	ID     string `cbor:"id"`
	Reason string `cbor:"reason,omitempty"`
}

// FileChunk carries one piece of a file. Sum is the BLAKE3-256 of the
// uncompressed bytes and Size their length; Data is zstd compressed when Zstd
// is set.
type FileChunk struct {
	ID    string `cbor:"id"`
	Index uint64 `cbor:"index"`
	Data  []byte `cbor:"data"`
	Size  uint32 `cbor:"size"`
	Last  bool   `cbor:"last"`
	Sum   []byte `cbor:"sum"`
	Zstd  bool   `cbor:"zstd,omitempty"`
}

type FileComplete struct {
	ID          string `cbor:"id"`
	ContentHash []byte `cbor:"content_hash"`
}

// FileCancel aborts a transfer. Failed marks an integrity or availability
// failure rather than a user cancel.
type FileCancel struct {
	ID     string `cbor:"id"`
	Reason string `cbor:"reason,omitempty"`
	Failed bool   `cbor:"failed,omitempty"`
}

func (*Hello) Type() MessageType          { return TypeHello }
func (*RoomMessage) Type() MessageType    { return TypeRoomMessage }
func (*RoomJoin) Type() MessageType       { return TypeRoomJoin }
func (*RoomLeave) Type() MessageType      { return TypeRoomLeave }
func (*ConnectRequest) Type() MessageType { return TypeConnectRequest }
func (*ConnectAccept) Type() MessageType  { return TypeConnectAccept }
func (*ConnectReject) Type() MessageType  { return TypeConnectReject }
func (*SessionLeave) Type() MessageType   { return TypeSessionLeave }
func (*PrivateMessage) Type() MessageType { return TypePrivateMessage }
func (*FileRequest) Type() MessageType    { return TypeFileRequest }
func (*FileAccept) Type() MessageType     { return TypeFileAccept }
func (*FileReject) Type() MessageType     { return TypeFileReject }
func (*FileChunk) Type() MessageType      { return TypeFileChunk }
func (*FileComplete) Type() MessageType   { return TypeFileComplete }
func (*FileCancel) Type() MessageType     { return TypeFileCancel }

func newMessage(t MessageType) Message {
	switch t {
	case TypeHello:
		return &Hello{}
	case TypeRoomMessage:
		return &RoomMessage{}
	case TypeRoomJoin:
		return &RoomJoin{}
	case TypeRoomLeave:
		return &RoomLeave{}
	case TypeConnectRequest:
		return &ConnectRequest{}
	case TypeConnectAccept:
		return &ConnectAccept{}
	case TypeConnectReject:
		return &ConnectReject{}
	case TypeSessionLeave:
		return &SessionLeave{}
	case TypePrivateMessage:
		return &PrivateMessage{}
	case TypeFileRequest:
		return &FileRequest{}
	case TypeFileAccept:
		return &FileAccept{}
	case TypeFileReject:
		return &FileReject{}
	case TypeFileChunk:
		return &FileChunk{}
	case TypeFileComplete:
		return &FileComplete{}
	case TypeFileCancel:
		return &FileCancel{}
	default:
		return nil
	}
}
