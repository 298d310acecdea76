package engine

import (
	"fmt"
	"sort"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/types"
)

type Session struct {
	Peer     types.PeerID
	State    types.SessionState
	Transfer *Transfer

	activated uint64
}

// Transition is the outcome of feeding one event to the session manager.
type Transition struct {
	Peer types.PeerID
	From types.SessionState
	To   types.SessionState
	// Reply is sent to the peer when set.
	Reply core.Message
	// Dropped is a pending transfer detached by closing the session; the
	// caller cancels it.
	Dropped *Transfer
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// SessionManager runs the private session handshake. It never touches the
// network; every method hands back what should be sent.
type SessionManager struct {
	sessions map[types.PeerID]*Session
	clock    uint64
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[types.PeerID]*Session)}
}

func (m *SessionManager) State(peer types.PeerID) types.SessionState {
	if s, ok := m.sessions[peer]; ok {
		return s.State
	}
	return types.SessionNone
}

func (m *SessionManager) Get(peer types.PeerID) (*Session, bool) {
	s, ok := m.sessions[peer]
	return s, ok
}

// Active returns the session with peer if it is Active.
func (m *SessionManager) Active(peer types.PeerID) (*Session, error) {
	s, ok := m.sessions[peer]
	if !ok || s.State != types.SessionActive {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

// Focused is the most recently activated Active session.
func (m *SessionManager) Focused() (*Session, bool) {
	var best *Session
	for _, s := range m.sessions {
		if s.State != types.SessionActive {
			continue
		}
		if best == nil || s.activated > best.activated {
			best = s
		}
	}
	return best, best != nil
}

// Focus moves peer's Active session to the front.
func (m *SessionManager) Focus(peer types.PeerID) error {
	s, err := m.Active(peer)
	if err != nil {
		return err
	}
	m.activate(s)
	return nil
}

func (m *SessionManager) List() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (m *SessionManager) Connect(peer types.PeerID) (Transition, error) {
	from := m.State(peer)
	if from.Live() {
		return Transition{}, fmt.Errorf("%w: %s", ErrSessionExists, from)
	}

	m.sessions[peer] = &Session{Peer: peer, State: types.SessionRequestedOutbound}
	return Transition{
		Peer:  peer,
		From:  from,
		To:    types.SessionRequestedOutbound,
		Reply: &core.ConnectRequest{},
	}, nil
}

func (m *SessionManager) Accept(peer types.PeerID) (Transition, error) {
	s, ok := m.sessions[peer]
	if !ok || s.State != types.SessionRequestedInbound {
		return Transition{}, ErrNoPendingRequest
	}

	m.activate(s)
	return Transition{
		Peer:  peer,
		From:  types.SessionRequestedInbound,
		To:    types.SessionActive,
		Reply: &core.ConnectAccept{},
	}, nil
}

func (m *SessionManager) Reject(peer types.PeerID) (Transition, error) {
	s, ok := m.sessions[peer]
	if !ok || s.State != types.SessionRequestedInbound {
		return Transition{}, ErrNoPendingRequest
	}

	delete(m.sessions, peer)
	return Transition{
		Peer:  peer,
		From:  types.SessionRequestedInbound,
		To:    types.SessionNone,
		Reply: &core.ConnectReject{Reason: reasonRejected},
	}, nil
}

// Leave closes an Active session or withdraws an outbound request.
func (m *SessionManager) Leave(peer types.PeerID) (Transition, error) {
	s, ok := m.sessions[peer]
	if !ok {
		return Transition{}, ErrNoActiveSession
	}

	switch s.State {
	case types.SessionActive:
		return m.close(s, &core.SessionLeave{}), nil
	case types.SessionRequestedOutbound:
		// Closed, not None: an accept already in flight lands on a closed
		// session here while the peer closes on our leave.
		s.State = types.SessionClosed
		return Transition{
			Peer:  peer,
			From:  types.SessionRequestedOutbound,
			To:    types.SessionClosed,
			Reply: &core.SessionLeave{},
		}, nil
	default:
		return Transition{}, ErrNoActiveSession
	}
}

// Forget drops an outbound request that never reached the peer.
func (m *SessionManager) Forget(peer types.PeerID) {
	if s, ok := m.sessions[peer]; ok && s.State == types.SessionRequestedOutbound {
		delete(m.sessions, peer)
	}
}

func (m *SessionManager) OnConnectRequest(peer types.PeerID) Transition {
	s, ok := m.sessions[peer]
	if !ok || !s.State.Live() {
		m.sessions[peer] = &Session{Peer: peer, State: types.SessionRequestedInbound}
		from := types.SessionNone
		if ok {
			from = s.State
		}
		return Transition{Peer: peer, From: from, To: types.SessionRequestedInbound}
	}

	switch s.State {
	case types.SessionRequestedOutbound:
		// both sides asked at once
		m.activate(s)
		return Transition{
			Peer:  peer,
			From:  types.SessionRequestedOutbound,
			To:    types.SessionActive,
			Reply: &core.ConnectAccept{},
		}
	case types.SessionActive:
		return Transition{
			Peer:  peer,
			From:  types.SessionActive,
			To:    types.SessionActive,
			Reply: &core.ConnectReject{Reason: reasonDuplicate},
		}
	default:
		return Transition{Peer: peer, From: s.State, To: s.State}
	}
}

func (m *SessionManager) OnConnectAccept(peer types.PeerID) Transition {
	s, ok := m.sessions[peer]
	if !ok {
		return Transition{Peer: peer}
	}
	if s.State != types.SessionRequestedOutbound {
		return Transition{Peer: peer, From: s.State, To: s.State}
	}

	m.activate(s)
	return Transition{Peer: peer, From: types.SessionRequestedOutbound, To: types.SessionActive}
}

func (m *SessionManager) OnConnectReject(peer types.PeerID) Transition {
	s, ok := m.sessions[peer]
	if !ok {
		return Transition{Peer: peer}
	}
	if s.State != types.SessionRequestedOutbound {
		return Transition{Peer: peer, From: s.State, To: s.State}
	}

	delete(m.sessions, peer)
	return Transition{Peer: peer, From: types.SessionRequestedOutbound, To: types.SessionNone}
}

func (m *SessionManager) OnLeave(peer types.PeerID) Transition {
	s, ok := m.sessions[peer]
	if !ok {
		return Transition{Peer: peer}
	}

	switch s.State {
	case types.SessionActive:
		return m.close(s, nil)
	case types.SessionRequestedInbound, types.SessionRequestedOutbound:
		from := s.State
		s.State = types.SessionClosed
		return Transition{Peer: peer, From: from, To: types.SessionClosed}
	default:
		return Transition{Peer: peer, From: s.State, To: s.State}
	}
}

// PeerLost closes whatever session exists with peer.
func (m *SessionManager) PeerLost(peer types.PeerID) Transition {
	s, ok := m.sessions[peer]
	if !ok {
		return Transition{Peer: peer}
	}
	if !s.State.Live() {
		return Transition{Peer: peer, From: s.State, To: s.State}
	}
	return m.close(s, nil)
}

func (m *SessionManager) close(s *Session, reply core.Message) Transition {
	t := Transition{
		Peer:  s.Peer,
		From:  s.State,
		To:    types.SessionClosed,
		Reply: reply,
	}
	if s.Transfer != nil && !s.Transfer.State.Terminal() {
		t.Dropped = s.Transfer
	}

	// the transfer stays attached so its final state remains visible
	s.State = types.SessionClosed
	return t
}

func (m *SessionManager) activate(s *Session) {
	m.clock++
	s.activated = m.clock
	s.State = types.SessionActive
}
