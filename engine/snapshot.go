package engine

import "github.com/Dyastin-0/swapbytes/types"

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	Self       types.PeerID
	Nickname   string
	ActiveRoom string

	Peers    []types.PeerInfo
	Rooms    []types.RoomInfo
	Known    []types.RoomInfo
	Sessions []SessionInfo
	Logs     map[string][]RoomMessage
}

type SessionInfo struct {
	Peer     types.PeerID
	Nickname string
	State    types.SessionState
	Focused  bool
	Transfer *types.Progress
}

// Session returns the session with peer, if any.
func (s Snapshot) Session(peer types.PeerID) (SessionInfo, bool) {
	for _, info := range s.Sessions {
		if info.Peer == peer {
			return info, true
		}
	}
	return SessionInfo{}, false
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Self:       e.self,
		Nickname:   e.nickname,
		ActiveRoom: e.activeRoom,
		Peers:      e.peerInfos(),
		Rooms:      e.rooms.Rooms(),
		Known:      e.rooms.Known(),
		Logs:       make(map[string][]RoomMessage),
	}

	for _, name := range e.rooms.Names() {
		log, _ := e.rooms.Log(name)
		snap.Logs[name] = log
	}

	focused, _ := e.sessions.Focused()
	for _, s := range e.sessions.List() {
		info := SessionInfo{
			Peer:     s.Peer,
			Nickname: e.registry.Nickname(s.Peer),
			State:    s.State,
			Focused:  s == focused,
		}
		if s.Transfer != nil {
			info.Transfer = s.Transfer.Progress()
		}
		snap.Sessions = append(snap.Sessions, info)
	}

	return snap
}

func (e *Engine) peerInfos() []types.PeerInfo {
	peers := e.registry.List()
	out := make([]types.PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, types.PeerInfo{
			ID:       p.ID,
			Nickname: p.Nickname,
			LastSeen: p.LastSeen,
			Session:  e.sessions.State(p.ID),
		})
	}
	return out
}
