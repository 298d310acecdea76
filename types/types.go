package types

import (
	"fmt"
	"time"
)

// PeerID is assigned by discovery and never changes for the lifetime of a peer.
type PeerID string

type SessionState uint8

const (
	SessionNone SessionState = iota
	SessionRequestedOutbound
	SessionRequestedInbound
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNone:
		return "none"
	case SessionRequestedOutbound:
		return "requested-outbound"
	case SessionRequestedInbound:
		return "requested-inbound"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("session(%d)", s)
	}
}

// Live reports whether the session still holds a slot for its peer.
func (s SessionState) Live() bool {
	return s != SessionNone && s != SessionClosed
}

type TransferState uint8

const (
	TransferRequested TransferState = iota
	TransferAccepted
	TransferTransferring
	TransferComplete
	TransferRejected
	TransferFailed
	TransferCancelled
)

func (s TransferState) String() string {
	switch s {
	case TransferRequested:
		return "requested"
	case TransferAccepted:
		return "accepted"
	case TransferTransferring:
		return "transferring"
	case TransferComplete:
		return "complete"
	case TransferRejected:
		return "rejected"
	case TransferFailed:
		return "failed"
	case TransferCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("transfer(%d)", s)
	}
}

func (s TransferState) Terminal() bool {
	switch s {
	case TransferComplete, TransferRejected, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// Direction is seen from the local peer: Inbound receives the file.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

type DisplayKind uint8

const (
	DisplayRoomMessage DisplayKind = iota
	DisplayPeerList
	DisplaySessionPrompt
	DisplayTransferProgress
	DisplayError
	DisplayHelp
	DisplayInfo
	DisplayPrivateMessage
	DisplayRoomList
)

func (k DisplayKind) String() string {
	switch k {
	case DisplayRoomMessage:
		return "room-message"
	case DisplayPeerList:
		return "peer-list"
	case DisplaySessionPrompt:
		return "session-prompt"
	case DisplayTransferProgress:
		return "transfer-progress"
	case DisplayError:
		return "error"
	case DisplayHelp:
		return "help"
	case DisplayInfo:
		return "info"
	case DisplayPrivateMessage:
		return "private-message"
	case DisplayRoomList:
		return "room-list"
	default:
		return fmt.Sprintf("display(%d)", k)
	}
}

type PeerInfo struct {
	ID       PeerID
	Nickname string
	LastSeen time.Time
	Session  SessionState
}

type RoomInfo struct {
	Name    string
	Members int
	Joined  bool
	Active  bool
}

type Progress struct {
	TransferID string
	Filename   string
	Direction  Direction
	State      TransferState
	Done       uint64
	Total      uint64
	TotalKnown bool
	// Path is set once an inbound file has been written.
	Path string
	Err  error
}

// DisplayEvent is everything the core asks the UI to show.
type DisplayEvent struct {
	Kind     DisplayKind
	Room     string
	Peer     PeerID
	Nickname string
	Text     string
	Seq      uint64
	At       time.Time

	Peers    []PeerInfo
	Rooms    []RoomInfo
	Progress *Progress
	Err      error
}

// UserCommand is one tokenized input line. A chat line has an empty Verb and
// the raw text as its single argument.
type UserCommand struct {
	Verb string
	Args []string
}
