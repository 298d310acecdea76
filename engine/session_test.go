package engine

import (
	"testing"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deliver feeds msg, sent by from, into the session manager of the receiving
// side and returns whatever it replies.
func deliver(m *SessionManager, from types.PeerID, msg core.Message) core.Message {
	var tr Transition
	switch msg.(type) {
	case *core.ConnectRequest:
		tr = m.OnConnectRequest(from)
	case *core.ConnectAccept:
		tr = m.OnConnectAccept(from)
	case *core.ConnectReject:
		tr = m.OnConnectReject(from)
	case *core.SessionLeave:
		tr = m.OnLeave(from)
	}
	return tr.Reply
}

// pump exchanges queued messages until both sides go quiet.
func pump(a, b *SessionManager, toA, toB []core.Message) {
	for len(toA) > 0 || len(toB) > 0 {
		var nextA, nextB []core.Message
		for _, msg := range toB {
			if reply := deliver(b, "a", msg); reply != nil {
				nextA = append(nextA, reply)
			}
		}
		for _, msg := range toA {
			if reply := deliver(a, "b", msg); reply != nil {
				nextB = append(nextB, reply)
			}
		}
		toA, toB = nextA, nextB
	}
}

func TestSessionHandshakeConverges(t *testing.T) {
	tests := []struct {
		name  string
		steps func(t *testing.T, a, b *SessionManager) (toA, toB []core.Message)
		wantA types.SessionState
		wantB types.SessionState
	}{
		{
			name: "connect then accept",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})
				require.Equal(t, types.SessionRequestedInbound, b.State("a"))

				tr, err = b.Accept("a")
				require.NoError(t, err)
				return []core.Message{tr.Reply}, nil
			},
			wantA: types.SessionActive,
			wantB: types.SessionActive,
		},
		{
			name: "connect then reject",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})

				tr, err = b.Reject("a")
				require.NoError(t, err)
				return []core.Message{tr.Reply}, nil
			},
			wantA: types.SessionNone,
			wantB: types.SessionNone,
		},
		{
			name: "crossing requests",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				ta, err := a.Connect("b")
				require.NoError(t, err)
				tb, err := b.Connect("a")
				require.NoError(t, err)
				return []core.Message{tb.Reply}, []core.Message{ta.Reply}
			},
			wantA: types.SessionActive,
			wantB: types.SessionActive,
		},
		{
			name: "leave after accept",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})
				tr, err = b.Accept("a")
				require.NoError(t, err)
				pump(a, b, []core.Message{tr.Reply}, nil)

				tr, err = a.Leave("b")
				require.NoError(t, err)
				return nil, []core.Message{tr.Reply}
			},
			wantA: types.SessionClosed,
			wantB: types.SessionClosed,
		},
		{
			name: "withdraw before answer",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})

				tr, err = a.Leave("b")
				require.NoError(t, err)
				return nil, []core.Message{tr.Reply}
			},
			wantA: types.SessionClosed,
			wantB: types.SessionClosed,
		},
		{
			name: "accept crosses with withdraw",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})

				accept, err := b.Accept("a")
				require.NoError(t, err)
				withdraw, err := a.Leave("b")
				require.NoError(t, err)
				return []core.Message{accept.Reply}, []core.Message{withdraw.Reply}
			},
			wantA: types.SessionClosed,
			wantB: types.SessionClosed,
		},
		{
			name: "withdraw then reconnect",
			steps: func(t *testing.T, a, b *SessionManager) ([]core.Message, []core.Message) {
				tr, err := a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})
				tr, err = a.Leave("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})

				tr, err = a.Connect("b")
				require.NoError(t, err)
				pump(a, b, nil, []core.Message{tr.Reply})
				tr, err = b.Accept("a")
				require.NoError(t, err)
				return []core.Message{tr.Reply}, nil
			},
			wantA: types.SessionActive,
			wantB: types.SessionActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := NewSessionManager(), NewSessionManager()

			toA, toB := tt.steps(t, a, b)
			pump(a, b, toA, toB)

			assert.Equal(t, tt.wantA, a.State("b"))
			assert.Equal(t, tt.wantB, b.State("a"))
			assert.Equal(t, a.State("b"), b.State("a"), "both sides end in the same state")
		})
	}
}

func TestSessionDuplicateRequests(t *testing.T) {
	m := NewSessionManager()

	tr := m.OnConnectRequest("p")
	assert.True(t, tr.Changed())
	assert.Nil(t, tr.Reply)

	tr = m.OnConnectRequest("p")
	assert.False(t, tr.Changed(), "repeat while RequestedInbound is a no-op")
	assert.Nil(t, tr.Reply)

	_, err := m.Accept("p")
	require.NoError(t, err)

	tr = m.OnConnectRequest("p")
	assert.Equal(t, types.SessionActive, m.State("p"))
	assert.Equal(t, &core.ConnectReject{Reason: reasonDuplicate}, tr.Reply)
}

func TestSessionNoPendingRequest(t *testing.T) {
	m := NewSessionManager()

	_, err := m.Accept("p")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	_, err = m.Reject("p")
	assert.ErrorIs(t, err, ErrNoPendingRequest)

	_, err = m.Connect("p")
	require.NoError(t, err)
	_, err = m.Accept("p")
	assert.ErrorIs(t, err, ErrNoPendingRequest, "cannot accept our own request")
}

func TestSessionConnectWhileLive(t *testing.T) {
	m := NewSessionManager()
	_, err := m.Connect("p")
	require.NoError(t, err)

	_, err = m.Connect("p")
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestSessionClosedIsTerminalButReplaceable(t *testing.T) {
	m := NewSessionManager()
	m.OnConnectRequest("p")
	_, err := m.Accept("p")
	require.NoError(t, err)

	tr := m.PeerLost("p")
	assert.Equal(t, types.SessionClosed, tr.To)
	assert.ErrorIs(t, func() error { _, err := m.Leave("p"); return err }(), ErrNoActiveSession)

	tr, err = m.Connect("p")
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, tr.From)
	assert.Equal(t, types.SessionRequestedOutbound, m.State("p"))
}

func TestSessionCloseDropsPendingTransfer(t *testing.T) {
	m := NewSessionManager()
	m.OnConnectRequest("p")
	_, err := m.Accept("p")
	require.NoError(t, err)

	s, err := m.Active("p")
	require.NoError(t, err)
	s.Transfer = &Transfer{ID: "t", State: types.TransferTransferring}

	tr := m.OnLeave("p")
	assert.Equal(t, types.SessionClosed, tr.To)
	require.NotNil(t, tr.Dropped)
	assert.Equal(t, "t", tr.Dropped.ID)
}

func TestSessionsAreIndependent(t *testing.T) {
	m := NewSessionManager()
	m.OnConnectRequest("p1")
	m.OnConnectRequest("p2")

	_, err := m.Accept("p1")
	require.NoError(t, err)
	_, err = m.Accept("p2")
	require.NoError(t, err)

	focused, ok := m.Focused()
	require.True(t, ok)
	assert.Equal(t, types.PeerID("p2"), focused.Peer)

	m.OnLeave("p2")
	focused, ok = m.Focused()
	require.True(t, ok)
	assert.Equal(t, types.PeerID("p1"), focused.Peer)
	assert.Equal(t, types.SessionActive, m.State("p1"))

	require.NoError(t, m.Focus("p1"))
	assert.ErrorIs(t, m.Focus("p2"), ErrNoActiveSession)
}
