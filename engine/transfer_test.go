package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSession(peer types.PeerID) *Session {
	return &Session{Peer: peer, State: types.SessionActive}
}

func newTestTransfers(t *testing.T) (*TransferManager, string, string) {
	shared, downloads := t.TempDir(), t.TempDir()
	m := NewTransferManager(TransferOptions{
		SharedDir:     shared,
		DownloadDir:   downloads,
		ChunkSize:     8,
		ReorderWindow: 4,
	})
	return m, shared, downloads
}

func TestTransferRequestNeedsActiveSession(t *testing.T) {
	m, _, _ := newTestTransfers(t)

	_, _, err := m.Request(nil, "a.txt")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, _, err = m.Request(&Session{Peer: "p", State: types.SessionRequestedOutbound}, "a.txt")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestTransferSecondRequestIsRefused(t *testing.T) {
	m, _, _ := newTestTransfers(t)
	s := activeSession("p")

	first, msg, err := m.Request(s, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, &core.FileRequest{ID: first.ID, Filename: "a.txt"}, msg)

	_, _, err = m.Request(s, "b.txt")
	assert.ErrorIs(t, err, ErrTransferAlreadyPending)
	assert.Equal(t, types.TransferRequested, first.State, "the first request is unaffected")
}

func TestTransferBusyResponder(t *testing.T) {
	m, _, _ := newTestTransfers(t)
	s := activeSession("p")

	t1, reply := m.OnRequest(s, &core.FileRequest{ID: "one", Filename: "a.txt"})
	require.NotNil(t, t1)
	assert.Nil(t, reply)

	t2, reply := m.OnRequest(s, &core.FileRequest{ID: "two", Filename: "b.txt"})
	assert.Nil(t, t2)
	assert.Equal(t, &core.FileReject{ID: "two", Reason: reasonBusy}, reply)
	assert.Equal(t, "one", s.Transfer.ID)
}

func TestTransferAcceptMissingFile(t *testing.T) {
	m, _, _ := newTestTransfers(t)
	s := activeSession("p")
	m.OnRequest(s, &core.FileRequest{ID: "x", Filename: "missing.txt"})

	reply, err := m.Accept(s)
	assert.ErrorIs(t, err, ErrFileUnavailable)
	assert.Equal(t, &core.FileCancel{ID: "x", Reason: reasonUnavailable, Failed: true}, reply)
	assert.Equal(t, types.TransferFailed, s.Transfer.State)

	// the requester maps the reason back onto the sentinel
	req := activeSession("q")
	tr, _, err := m.Request(req, "missing.txt")
	require.NoError(t, err)
	changed, err := m.OnCancel(req, &core.FileCancel{ID: tr.ID, Reason: reasonUnavailable, Failed: true})
	assert.True(t, changed)
	assert.ErrorIs(t, err, ErrFileUnavailable)
	assert.Equal(t, types.TransferFailed, tr.State)
}

func TestTransferAcceptRejectWithoutRequest(t *testing.T) {
	m, _, _ := newTestTransfers(t)
	s := activeSession("p")

	_, err := m.Accept(s)
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	_, err = m.Reject(s)
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	_, err = m.Cancel(s)
	assert.ErrorIs(t, err, ErrNoPendingTransfer)
}

// One full transfer between two managers, without a network.
func TestTransferLifecycle(t *testing.T) {
	sender, shared, _ := newTestTransfers(t)
	receiver, _, downloads := newTestTransfers(t)

	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(filepath.Join(shared, "fox.txt"), content, 0644))

	rs, ss := activeSession("sender"), activeSession("receiver")

	in, req, err := receiver.Request(rs, "fox.txt")
	require.NoError(t, err)

	out, reply := sender.OnRequest(ss, req.(*core.FileRequest))
	require.Nil(t, reply)
	assert.Equal(t, types.Outbound, out.Direction)

	accept, err := sender.Accept(ss)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), accept.(*core.FileAccept).Size)

	_, err = receiver.OnAccept(rs, accept.(*core.FileAccept))
	require.NoError(t, err)
	assert.Equal(t, types.TransferAccepted, in.State)

	hash, err := streamFile(t.Context(), out.ID, out.Path, 8, false, func(c *core.FileChunk) error {
		require.True(t, sender.Sent(ss, c))
		changed, reply, err := receiver.OnChunk(rs, c)
		require.True(t, changed)
		require.Nil(t, reply)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.TransferTransferring, in.State)
	assert.Equal(t, uint64(len(content)), in.BytesDone)
	assert.Equal(t, uint64(len(content)), out.BytesDone)

	complete, ok := sender.Streamed(ss, out.ID, hash)
	require.True(t, ok)

	_, echo, err := receiver.OnComplete(rs, complete.(*core.FileComplete))
	require.NoError(t, err)
	assert.Equal(t, types.TransferComplete, in.State)

	_, _, err = sender.OnComplete(ss, echo.(*core.FileComplete))
	require.NoError(t, err)
	assert.Equal(t, types.TransferComplete, out.State)

	got, err := os.ReadFile(filepath.Join(downloads, "fox.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, filepath.Join(downloads, "fox.txt"), in.Path)
}

func TestTransferCorruptChunkFails(t *testing.T) {
	m, _, downloads := newTestTransfers(t)
	s := activeSession("p")

	tr, _, err := m.Request(s, "a.txt")
	require.NoError(t, err)
	_, err = m.OnAccept(s, &core.FileAccept{ID: tr.ID, Size: 5})
	require.NoError(t, err)

	changed, reply, err := m.OnChunk(s, &core.FileChunk{
		ID: tr.ID, Index: 0, Data: []byte("jello"), Size: 5, Last: true, Sum: sumOf([]byte("hello")),
	})
	assert.True(t, changed)
	assert.ErrorIs(t, err, ErrTransferIntegrityMismatch)
	assert.Equal(t, &core.FileCancel{ID: tr.ID, Reason: reasonIntegrity, Failed: true}, reply)
	assert.Equal(t, types.TransferFailed, tr.State)

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the session survives and can request again
	_, _, err = m.Request(s, "b.txt")
	assert.NoError(t, err)
}

func TestTransferStaleChunkIgnored(t *testing.T) {
	m, _, _ := newTestTransfers(t)
	s := activeSession("p")

	tr, _, err := m.Request(s, "a.txt")
	require.NoError(t, err)
	_, err = m.OnAccept(s, &core.FileAccept{ID: tr.ID, Size: 1})
	require.NoError(t, err)

	changed, reply, err := m.OnChunk(s, &core.FileChunk{ID: "old", Data: []byte("x"), Size: 1, Sum: sumOf([]byte("x"))})
	assert.False(t, changed)
	assert.Nil(t, reply)
	assert.NoError(t, err)
	assert.Equal(t, types.TransferAccepted, tr.State)
}

func TestTransferCancelAndDrop(t *testing.T) {
	m, _, downloads := newTestTransfers(t)
	s := activeSession("p")

	tr, _, err := m.Request(s, "a.txt")
	require.NoError(t, err)
	_, err = m.OnAccept(s, &core.FileAccept{ID: tr.ID, Size: 10})
	require.NoError(t, err)
	_, _, err = m.OnChunk(s, &core.FileChunk{ID: tr.ID, Data: []byte("12345"), Size: 5, Sum: sumOf([]byte("12345"))})
	require.NoError(t, err)

	reply, err := m.Cancel(s)
	require.NoError(t, err)
	assert.Equal(t, &core.FileCancel{ID: tr.ID, Reason: reasonCancelled}, reply)
	assert.Equal(t, types.TransferCancelled, tr.State)

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial output is removed")

	next, _, err := m.Request(s, "b.txt")
	require.NoError(t, err)
	m.Drop(next)
	assert.Equal(t, types.TransferCancelled, next.State)
}

func TestTransferRejected(t *testing.T) {
	sender, _, _ := newTestTransfers(t)
	receiver, _, _ := newTestTransfers(t)
	rs, ss := activeSession("sender"), activeSession("receiver")

	in, req, err := receiver.Request(rs, "a.txt")
	require.NoError(t, err)
	sender.OnRequest(ss, req.(*core.FileRequest))

	reject, err := sender.Reject(ss)
	require.NoError(t, err)
	assert.Equal(t, types.TransferRejected, ss.Transfer.State)

	require.NoError(t, receiver.OnReject(rs, reject.(*core.FileReject)))
	assert.Equal(t, types.TransferRejected, in.State)
}
