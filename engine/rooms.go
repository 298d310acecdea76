package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Dyastin-0/swapbytes/types"
)

const GlobalRoom = "global"

type RoomMessage struct {
	Room     string
	Sender   types.PeerID
	Nickname string
	Body     string
	Seq      uint64
	At       time.Time
}

type Room struct {
	Name    string
	members map[types.PeerID]struct{}
	log     []RoomMessage
}

// RoomManager holds the rooms the local peer has joined and the names other
// peers advertise. Message order is local arrival order.
type RoomManager struct {
	self  types.PeerID
	rooms map[string]*Room
	// known maps advertised rooms the local peer has not joined to the peers
	// advertising them.
	known map[string]map[types.PeerID]struct{}
	seq   uint64
	now   func() time.Time
}

func NewRoomManager(self types.PeerID) *RoomManager {
	m := &RoomManager{
		self:  self,
		rooms: make(map[string]*Room),
		known: make(map[string]map[types.PeerID]struct{}),
		now:   time.Now,
	}
	m.rooms[GlobalRoom] = newRoom(GlobalRoom, self)
	return m
}

func newRoom(name string, members ...types.PeerID) *Room {
	r := &Room{Name: name, members: make(map[types.PeerID]struct{})}
	for _, id := range members {
		r.members[id] = struct{}{}
	}
	return r
}

func ValidateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return name, nil
}

// Create makes a new room with the local peer as its only member.
func (m *RoomManager) Create(name string) error {
	name, err := ValidateRoomName(name)
	if err != nil {
		return err
	}

	if _, ok := m.rooms[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRoom, name)
	}
	if _, ok := m.known[name]; ok {
		return fmt.Errorf("%w: %s is advertised by another peer", ErrDuplicateRoom, name)
	}

	m.rooms[name] = newRoom(name, m.self)
	return nil
}

// Join adds peer to room. For the local peer this creates the local record,
// seeded with every peer already advertising the room; joining a room the
// local peer is in is a no-op. For a remote peer it only updates the view.
func (m *RoomManager) Join(room string, peer types.PeerID) error {
	room, err := ValidateRoomName(room)
	if err != nil {
		return err
	}

	if r, ok := m.rooms[room]; ok {
		r.members[peer] = struct{}{}
		return nil
	}

	if peer != m.self {
		m.advertise(room, peer)
		return nil
	}

	r := newRoom(room, m.self)
	for id := range m.known[room] {
		r.members[id] = struct{}{}
	}
	delete(m.known, room)
	m.rooms[room] = r
	return nil
}

// Leave removes peer from room. The local peer leaving forgets the room
// locally; remaining members keep it alive as an advertised name.
func (m *RoomManager) Leave(room string, peer types.PeerID) error {
	if peer != m.self {
		if r, ok := m.rooms[room]; ok {
			delete(r.members, peer)
		}
		m.unadvertise(room, peer)
		return nil
	}

	if room == GlobalRoom {
		return ErrCannotLeaveGlobal
	}

	r, ok := m.rooms[room]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, room)
	}

	delete(m.rooms, room)
	for id := range r.members {
		if id != m.self {
			m.advertise(room, id)
		}
	}
	return nil
}

// Post appends a message to room. The local peer must be a member. A remote
// post to a joined room is always accepted and makes the sender a member;
// one for a room the local peer has not joined fails with ErrNotMember so
// the caller can log and drop it.
func (m *RoomManager) Post(room string, sender types.PeerID, nickname, body string) (RoomMessage, error) {
	r, ok := m.rooms[room]
	if !ok {
		if _, err := ValidateRoomName(room); err == nil && sender != m.self {
			m.advertise(room, sender)
		}
		return RoomMessage{}, fmt.Errorf("%w: %s", ErrNotMember, room)
	}

	if sender != m.self {
		r.members[sender] = struct{}{}
	}

	m.seq++
	msg := RoomMessage{
		Room:     room,
		Sender:   sender,
		Nickname: nickname,
		Body:     body,
		Seq:      m.seq,
		At:       m.now(),
	}
	r.log = append(r.log, msg)
	return msg, nil
}

// Learn records the rooms a peer says it is in.
func (m *RoomManager) Learn(peer types.PeerID, rooms []string) {
	for _, name := range rooms {
		name, err := ValidateRoomName(name)
		if err != nil {
			continue
		}
		_ = m.Join(name, peer)
	}
}

func (m *RoomManager) RemovePeer(peer types.PeerID) {
	for _, r := range m.rooms {
		delete(r.members, peer)
	}
	for name := range m.known {
		m.unadvertise(name, peer)
	}
}

func (m *RoomManager) Joined(room string) bool {
	_, ok := m.rooms[room]
	return ok
}

// Names returns the joined room names, global first.
func (m *RoomManager) Names() []string {
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		if name != GlobalRoom {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{GlobalRoom}, names...)
}

func (m *RoomManager) Rooms() []types.RoomInfo {
	out := make([]types.RoomInfo, 0, len(m.rooms))
	for _, name := range m.Names() {
		out = append(out, types.RoomInfo{
			Name:    name,
			Members: len(m.rooms[name].members),
			Joined:  true,
		})
	}
	return out
}

// Known lists rooms advertised by peers that the local peer has not joined.
func (m *RoomManager) Known() []types.RoomInfo {
	names := make([]string, 0, len(m.known))
	for name := range m.known {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.RoomInfo, 0, len(names))
	for _, name := range names {
		out = append(out, types.RoomInfo{Name: name, Members: len(m.known[name])})
	}
	return out
}

func (m *RoomManager) Members(room string) []types.PeerID {
	r, ok := m.rooms[room]
	if !ok {
		return nil
	}

	out := make([]types.PeerID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *RoomManager) Log(room string) ([]RoomMessage, error) {
	r, ok := m.rooms[room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, room)
	}
	return append([]RoomMessage(nil), r.log...), nil
}

func (m *RoomManager) advertise(room string, peer types.PeerID) {
	set, ok := m.known[room]
	if !ok {
		set = make(map[types.PeerID]struct{})
		m.known[room] = set
	}
	set[peer] = struct{}{}
}

func (m *RoomManager) unadvertise(room string, peer types.PeerID) {
	set, ok := m.known[room]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(m.known, room)
	}
}
