package engine

import (
	"errors"

	"github.com/Dyastin-0/swapbytes/transport"
)

var (
	ErrDuplicateRoom             = errors.New("room already exists")
	ErrNotMember                 = errors.New("not a member of room")
	ErrUnknownCommand            = errors.New("unknown command")
	ErrNoPendingRequest          = errors.New("no pending request")
	ErrNoActiveSession           = errors.New("no active session")
	ErrTransferAlreadyPending    = errors.New("a transfer is already pending")
	ErrFileUnavailable           = errors.New("file unavailable")
	ErrTransferIntegrityMismatch = errors.New("transfer integrity mismatch")
	ErrPeerUnresponsive          = transport.ErrPeerUnresponsive
	ErrPeerUnknown               = errors.New("unknown peer")
	ErrSessionExists             = errors.New("session already exists")
	ErrNoPendingTransfer         = errors.New("no pending transfer")
	ErrCannotLeaveGlobal         = errors.New("cannot leave the global room")
	ErrInvalidRoomName           = errors.New("invalid room name")
	ErrReorderWindowExceeded     = errors.New("chunk outside reorder window")
	ErrUsage                     = errors.New("usage")
	ErrStopped                   = errors.New("engine stopped")
)

// Reasons carried on the wire in rejects and cancels.
const (
	reasonDuplicate   = "duplicate"
	reasonRejected    = "rejected"
	reasonBusy        = "busy"
	reasonNoSession   = "no active session"
	reasonCancelled   = "cancelled"
	reasonLeft        = "session closed"
	reasonUnavailable = "file unavailable"
	reasonIntegrity   = "integrity mismatch"
	reasonWindow      = "reorder window exceeded"
	reasonStream      = "stream error"
)

// reasonError maps a wire reason back onto the matching sentinel.
func reasonError(reason string) error {
	switch reason {
	case reasonUnavailable:
		return ErrFileUnavailable
	case reasonIntegrity:
		return ErrTransferIntegrityMismatch
	case reasonWindow:
		return ErrReorderWindowExceeded
	default:
		return errors.New(reason)
	}
}

// errorReason is the inverse of reasonError.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrFileUnavailable):
		return reasonUnavailable
	case errors.Is(err, ErrTransferIntegrityMismatch):
		return reasonIntegrity
	case errors.Is(err, ErrReorderWindowExceeded):
		return reasonWindow
	default:
		return reasonStream
	}
}
