package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/types"
	"github.com/google/uuid"
)

const (
	DefaultChunkSize     = 32 * 1024
	DefaultReorderWindow = 64
)

// Transfer is one file moving inside an Active session.
type Transfer struct {
	ID          string
	Peer        types.PeerID
	Filename    string
	Direction   types.Direction
	State       types.TransferState
	BytesTotal  uint64
	TotalKnown  bool
	BytesDone   uint64
	ContentHash []byte
	// Err is why the transfer failed, was rejected or was cancelled.
	Err error
	// Path is the source file for Outbound and the written file for a
	// Complete Inbound transfer.
	Path string

	sink *fileSink
	stop context.CancelFunc
	ack  chan struct{}
}

func (t *Transfer) Progress() *types.Progress {
	return &types.Progress{
		TransferID: t.ID,
		Filename:   t.Filename,
		Direction:  t.Direction,
		State:      t.State,
		Done:       t.BytesDone,
		Total:      t.BytesTotal,
		TotalKnown: t.TotalKnown,
		Path:       t.Path,
		Err:        t.Err,
	}
}

type TransferOptions struct {
	SharedDir     string
	DownloadDir   string
	ChunkSize     int
	ReorderWindow int
	Compress      bool
}

// TransferManager negotiates and verifies file transfers. Like the session
// manager it returns replies instead of sending them; the only I/O it does is
// local file access.
type TransferManager struct {
	opts  TransferOptions
	newID func() string
	now   func() time.Time
}

func NewTransferManager(opts TransferOptions) *TransferManager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = DefaultReorderWindow
	}

	return &TransferManager{
		opts:  opts,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func pending(s *Session) *Transfer {
	if s != nil && s.Transfer != nil && !s.Transfer.State.Terminal() {
		return s.Transfer
	}
	return nil
}

// current returns the session's pending transfer if it carries id.
func current(s *Session, id string) *Transfer {
	t := pending(s)
	if t == nil || t.ID != id {
		return nil
	}
	return t
}

// Request asks the peer for filename.
func (m *TransferManager) Request(s *Session, filename string) (*Transfer, core.Message, error) {
	if s == nil || s.State != types.SessionActive {
		return nil, nil, ErrNoActiveSession
	}
	if t := pending(s); t != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTransferAlreadyPending, t.Filename)
	}
	if filename == "" {
		return nil, nil, fmt.Errorf("%w: /request <file>", ErrUsage)
	}

	t := &Transfer{
		ID:        m.newID(),
		Peer:      s.Peer,
		Filename:  filename,
		Direction: types.Inbound,
		State:     types.TransferRequested,
	}
	s.Transfer = t
	return t, &core.FileRequest{ID: t.ID, Filename: filename}, nil
}

// OnRequest records an incoming request. The returned transfer is nil when
// the request was refused outright.
func (m *TransferManager) OnRequest(s *Session, msg *core.FileRequest) (*Transfer, core.Message) {
	if s == nil || s.State != types.SessionActive {
		return nil, &core.FileReject{ID: msg.ID, Reason: reasonNoSession}
	}
	if pending(s) != nil {
		return nil, &core.FileReject{ID: msg.ID, Reason: reasonBusy}
	}

	t := &Transfer{
		ID:        msg.ID,
		Peer:      s.Peer,
		Filename:  msg.Filename,
		Direction: types.Outbound,
		State:     types.TransferRequested,
	}
	s.Transfer = t
	return t, nil
}

// AwaitingAnswer reports whether the session holds a file request the local
// peer has to accept or reject.
func AwaitingAnswer(s *Session) bool {
	t := pending(s)
	return t != nil && t.Direction == types.Outbound && t.State == types.TransferRequested
}

// Accept checks the requested file is available. On success the transfer is
// Accepted and the caller starts streaming it.
func (m *TransferManager) Accept(s *Session) (core.Message, error) {
	if !AwaitingAnswer(s) {
		return nil, ErrNoPendingRequest
	}
	t := s.Transfer

	path := resolveShared(m.opts.SharedDir, t.Filename)
	size, err := statShared(path)
	if err != nil {
		return m.fail(t, err), err
	}

	t.State = types.TransferAccepted
	t.Path = path
	t.BytesTotal = size
	t.TotalKnown = true
	return &core.FileAccept{ID: t.ID, Size: size}, nil
}

func (m *TransferManager) Reject(s *Session) (core.Message, error) {
	if !AwaitingAnswer(s) {
		return nil, ErrNoPendingRequest
	}
	t := s.Transfer

	t.State = types.TransferRejected
	return &core.FileReject{ID: t.ID, Reason: reasonRejected}, nil
}

func (m *TransferManager) Cancel(s *Session) (core.Message, error) {
	if s == nil {
		return nil, ErrNoPendingTransfer
	}
	t := pending(s)
	if t == nil {
		return nil, ErrNoPendingTransfer
	}

	m.finish(t, types.TransferCancelled, errors.New(reasonCancelled))
	return &core.FileCancel{ID: t.ID, Reason: reasonCancelled}, nil
}

// Drop cancels t because its session closed.
func (m *TransferManager) Drop(t *Transfer) {
	if t == nil || t.State.Terminal() {
		return
	}
	m.finish(t, types.TransferCancelled, errors.New(reasonLeft))
}

func (m *TransferManager) OnAccept(s *Session, msg *core.FileAccept) (core.Message, error) {
	t := current(s, msg.ID)
	if t == nil || t.Direction != types.Inbound || t.State != types.TransferRequested {
		return nil, nil
	}

	sink, err := openSink(m.opts.DownloadDir, downloadName(t.Filename), m.opts.ReorderWindow)
	if err != nil {
		return m.fail(t, err), err
	}

	t.sink = sink
	t.State = types.TransferAccepted
	t.BytesTotal = msg.Size
	t.TotalKnown = true
	return nil, nil
}

func (m *TransferManager) OnReject(s *Session, msg *core.FileReject) error {
	t := current(s, msg.ID)
	if t == nil || t.Direction != types.Inbound || t.State != types.TransferRequested {
		return nil
	}

	reason := msg.Reason
	if reason == "" {
		reason = reasonRejected
	}
	t.State = types.TransferRejected
	t.Err = errors.New(reason)
	return nil
}

// OnChunk verifies and applies one chunk. It reports whether the chunk
// moved the transfer forward.
func (m *TransferManager) OnChunk(s *Session, msg *core.FileChunk) (bool, core.Message, error) {
	t := current(s, msg.ID)
	if t == nil || t.Direction != types.Inbound || t.sink == nil {
		return false, nil, nil
	}

	data, err := verifyChunk(msg)
	if err != nil {
		return true, m.fail(t, err), err
	}

	if err := t.sink.Put(msg.Index, data, msg.Last); err != nil {
		return true, m.fail(t, err), err
	}

	t.State = types.TransferTransferring
	t.BytesDone = t.sink.Written()
	return true, nil, nil
}

// OnComplete handles the sender's final hash on the receiving side and the
// receiver's echo on the sending side.
func (m *TransferManager) OnComplete(s *Session, msg *core.FileComplete) (bool, core.Message, error) {
	t := current(s, msg.ID)
	if t == nil {
		return false, nil, nil
	}

	if t.Direction == types.Outbound {
		if t.ContentHash == nil {
			return false, nil, nil
		}
		if !bytes.Equal(t.ContentHash, msg.ContentHash) {
			err := fmt.Errorf("%w: receiver reported a different hash", ErrTransferIntegrityMismatch)
			return true, m.fail(t, err), err
		}
		m.finish(t, types.TransferComplete, nil)
		return true, nil, nil
	}

	if t.sink == nil {
		return false, nil, nil
	}

	path, err := t.sink.Finish(msg.ContentHash, m.now())
	if err != nil {
		return true, m.fail(t, err), err
	}

	t.sink = nil
	t.Path = path
	t.ContentHash = msg.ContentHash
	m.finish(t, types.TransferComplete, nil)
	return true, &core.FileComplete{ID: t.ID, ContentHash: msg.ContentHash}, nil
}

// OnCancel ends the transfer on the peer's word. It returns the recorded
// error so the caller can show it.
func (m *TransferManager) OnCancel(s *Session, msg *core.FileCancel) (bool, error) {
	t := current(s, msg.ID)
	if t == nil {
		return false, nil
	}

	if msg.Failed {
		err := fmt.Errorf("peer reported failure: %w", reasonError(msg.Reason))
		m.finish(t, types.TransferFailed, err)
		return true, err
	}

	reason := msg.Reason
	if reason == "" {
		reason = reasonCancelled
	}
	m.finish(t, types.TransferCancelled, fmt.Errorf("%s by peer", reason))
	return true, nil
}

// Sent records a chunk handed to the link by the sender.
func (m *TransferManager) Sent(s *Session, c *core.FileChunk) bool {
	t := current(s, c.ID)
	if t == nil || t.Direction != types.Outbound {
		return false
	}

	t.State = types.TransferTransferring
	t.BytesDone += uint64(c.Size)
	return true
}

// Streamed records the whole-file hash once the sender has read everything.
func (m *TransferManager) Streamed(s *Session, id string, hash []byte) (core.Message, bool) {
	t := current(s, id)
	if t == nil || t.Direction != types.Outbound {
		return nil, false
	}

	t.ContentHash = hash
	return &core.FileComplete{ID: id, ContentHash: hash}, true
}

// Fail marks a pending transfer Failed on a local error.
func (m *TransferManager) Fail(s *Session, id string, err error) core.Message {
	t := current(s, id)
	if t == nil {
		return nil
	}
	return m.fail(t, err)
}

func (m *TransferManager) fail(t *Transfer, err error) core.Message {
	m.finish(t, types.TransferFailed, err)
	return &core.FileCancel{ID: t.ID, Reason: errorReason(err), Failed: true}
}

// finish moves t to a terminal state and releases its resources.
func (m *TransferManager) finish(t *Transfer, state types.TransferState, err error) {
	t.State = state
	t.Err = err

	if t.sink != nil {
		t.sink.Discard()
		t.sink = nil
	}
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}
