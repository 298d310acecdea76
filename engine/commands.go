package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/types"
)

type command struct {
	usage string
	help  string
	run   func(e *Engine, args []string) error
}

// commandTable returns the verbs by name and in help order.
func commandTable() (map[string]command, []string) {
	table := []struct {
		verb string
		command
	}{
		{"help", command{"/help", "show this help", (*Engine).cmdHelp}},
		{"list", command{"/list", "list peers on the network", (*Engine).cmdList}},
		{"rooms", command{"/rooms", "list joined and advertised rooms", (*Engine).cmdRooms}},
		{"create_room", command{"/create_room <room>", "create a room and switch to it", (*Engine).cmdCreateRoom}},
		{"join", command{"/join <room>", "join or switch to a room", (*Engine).cmdJoin}},
		{"leave_room", command{"/leave_room [room]", "leave a room", (*Engine).cmdLeaveRoom}},
		{"say", command{"/say <text>", "post to the active room while in a private session", (*Engine).cmdSay}},
		{"connect", command{"/connect <nickname>", "ask a peer for a private session", (*Engine).cmdConnect}},
		{"accept", command{"/accept [nickname]", "accept a pending file or connect request", (*Engine).cmdAccept}},
		{"reject", command{"/reject [nickname]", "reject a pending file or connect request", (*Engine).cmdReject}},
		{"request", command{"/request <file>", "request a file from the private session peer", (*Engine).cmdRequest}},
		{"cancel", command{"/cancel", "cancel the pending transfer", (*Engine).cmdCancel}},
		{"leave", command{"/leave [nickname]", "leave the private session", (*Engine).cmdLeave}},
		{"nick", command{"/nick <name>", "change your nickname", (*Engine).cmdNick}},
	}

	byVerb := make(map[string]command, len(table))
	order := make([]string, 0, len(table))
	for _, c := range table {
		byVerb[c.verb] = c.command
		order = append(order, c.verb)
	}
	return byVerb, order
}

func (e *Engine) runCommand(cmd types.UserCommand) {
	var err error
	if cmd.Verb == "" {
		err = e.chat(strings.Join(cmd.Args, " "))
	} else if c, ok := e.commands[cmd.Verb]; ok {
		err = c.run(e, cmd.Args)
	} else {
		err = fmt.Errorf("%w: /%s, type /help", ErrUnknownCommand, cmd.Verb)
	}

	if err != nil {
		e.log.WithStr("verb", cmd.Verb).Err(err).Debug("command failed")
		e.fail(err)
	}
}

func usage(c string) error {
	return fmt.Errorf("%w: %s", ErrUsage, c)
}

func (e *Engine) cmdHelp([]string) error {
	var b strings.Builder
	for _, verb := range e.order {
		c := e.commands[verb]
		fmt.Fprintf(&b, "%-22s %s\n", c.usage, c.help)
	}
	b.WriteString("Anything else is sent as a chat line.")

	e.emit(types.DisplayEvent{Kind: types.DisplayHelp, Text: b.String()})
	return nil
}

func (e *Engine) cmdList([]string) error {
	e.emit(types.DisplayEvent{Kind: types.DisplayPeerList, Peers: e.peerInfos()})
	return nil
}

func (e *Engine) cmdRooms([]string) error {
	rooms := e.rooms.Rooms()
	for i := range rooms {
		rooms[i].Active = rooms[i].Name == e.activeRoom
	}
	rooms = append(rooms, e.rooms.Known()...)

	e.emit(types.DisplayEvent{Kind: types.DisplayRoomList, Room: e.activeRoom, Rooms: rooms})
	return nil
}

func (e *Engine) cmdCreateRoom(args []string) error {
	if len(args) != 1 {
		return usage("/create_room <room>")
	}

	if err := e.rooms.Create(args[0]); err != nil {
		return err
	}
	room, _ := ValidateRoomName(args[0])

	e.activeRoom = room
	e.broadcast(&core.RoomJoin{Room: room})
	e.info("", "", fmt.Sprintf("created room %s", room))
	return nil
}

func (e *Engine) cmdJoin(args []string) error {
	if len(args) != 1 {
		return usage("/join <room>")
	}

	room, err := ValidateRoomName(args[0])
	if err != nil {
		return err
	}

	if !e.rooms.Joined(room) {
		if err := e.rooms.Join(room, e.self); err != nil {
			return err
		}
		e.broadcast(&core.RoomJoin{Room: room})
	}

	e.activeRoom = room
	e.info("", "", fmt.Sprintf("now chatting in %s", room))
	return nil
}

func (e *Engine) cmdLeaveRoom(args []string) error {
	room := e.activeRoom
	switch len(args) {
	case 0:
	case 1:
		room = args[0]
	default:
		return usage("/leave_room [room]")
	}

	if err := e.rooms.Leave(room, e.self); err != nil {
		return err
	}

	e.broadcast(&core.RoomLeave{Room: room})
	if e.activeRoom == room {
		e.activeRoom = GlobalRoom
	}
	e.info("", "", fmt.Sprintf("left room %s, now chatting in %s", room, e.activeRoom))
	return nil
}

func (e *Engine) cmdSay(args []string) error {
	if len(args) == 0 {
		return usage("/say <text>")
	}
	return e.say(strings.Join(args, " "))
}

func (e *Engine) cmdConnect(args []string) error {
	if len(args) != 1 {
		return usage("/connect <nickname>")
	}

	peer, err := e.registry.LookupByNickname(args[0])
	if err != nil {
		return err
	}

	tr, err := e.sessions.Connect(peer.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", peer.Nickname, err)
	}
	if err := e.send(peer.ID, tr.Reply); err != nil {
		e.sessions.Forget(peer.ID)
		return nil
	}

	e.info(peer.ID, peer.Nickname, fmt.Sprintf("connect request sent to %s", peer.Nickname))
	return nil
}

// promptTarget resolves who /accept and /reject answer: the named peer, else
// the peer of the newest prompt that is still unanswered.
func (e *Engine) promptTarget(args []string, verb string) (types.PeerID, error) {
	switch len(args) {
	case 0:
		e.prompts = slices.DeleteFunc(e.prompts, func(p types.PeerID) bool { return !e.awaitingUs(p) })
		if len(e.prompts) == 0 {
			return "", ErrNoPendingRequest
		}
		return e.prompts[len(e.prompts)-1], nil
	case 1:
		peer, err := e.registry.LookupByNickname(args[0])
		if err != nil {
			return "", err
		}
		return peer.ID, nil
	default:
		return "", usage(verb + " [nickname]")
	}
}

// awaitingUs reports whether peer has a connect or file request we have not
// answered.
func (e *Engine) awaitingUs(peer types.PeerID) bool {
	s, ok := e.sessions.Get(peer)
	if !ok {
		return false
	}
	return s.State == types.SessionRequestedInbound || AwaitingAnswer(s)
}

func (e *Engine) cmdAccept(args []string) error {
	id, err := e.promptTarget(args, "/accept")
	if err != nil {
		return err
	}
	nick := e.registry.Nickname(id)

	if s, ok := e.sessions.Get(id); ok && AwaitingAnswer(s) {
		t := s.Transfer
		reply, err := e.transfers.Accept(s)
		if err != nil {
			e.answer(id, t, reply, nil)
			return fmt.Errorf("%q: %w", t.Filename, err)
		}
		if err := e.send(id, reply); err != nil {
			e.answer(id, t, e.transfers.Fail(s, t.ID, err), nil)
			return nil
		}
		e.progress(id, t)
		e.startStream(s, t)
		return nil
	}

	tr, err := e.sessions.Accept(id)
	if err != nil {
		return err
	}
	e.transition(tr)
	e.info(id, nick, fmt.Sprintf("session established with %s, type /leave to end it", nick))
	return nil
}

func (e *Engine) cmdReject(args []string) error {
	id, err := e.promptTarget(args, "/reject")
	if err != nil {
		return err
	}
	nick := e.registry.Nickname(id)

	if s, ok := e.sessions.Get(id); ok && AwaitingAnswer(s) {
		t := s.Transfer
		reply, err := e.transfers.Reject(s)
		if err != nil {
			return err
		}
		e.answer(id, t, reply, nil)
		return nil
	}

	tr, err := e.sessions.Reject(id)
	if err != nil {
		return err
	}
	e.transition(tr)
	e.info(id, nick, fmt.Sprintf("rejected connect request from %s", nick))
	return nil
}

func (e *Engine) cmdRequest(args []string) error {
	if len(args) == 0 {
		return usage("/request <file>")
	}

	s, ok := e.sessions.Focused()
	if !ok {
		return ErrNoActiveSession
	}

	t, msg, err := e.transfers.Request(s, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := e.send(s.Peer, msg); err != nil {
		e.transfers.Fail(s, t.ID, err)
		e.progress(s.Peer, t)
		return nil
	}

	e.progress(s.Peer, t)
	return nil
}

func (e *Engine) cmdCancel([]string) error {
	s, ok := e.sessions.Focused()
	if !ok {
		return ErrNoActiveSession
	}

	t := pending(s)
	reply, err := e.transfers.Cancel(s)
	if err != nil {
		return err
	}
	e.answer(s.Peer, t, reply, nil)
	return nil
}

func (e *Engine) cmdLeave(args []string) error {
	var id types.PeerID
	switch len(args) {
	case 0:
		s, ok := e.sessions.Focused()
		if !ok {
			s, ok = e.outboundRequest()
		}
		if !ok {
			return ErrNoActiveSession
		}
		id = s.Peer
	case 1:
		peer, err := e.registry.LookupByNickname(args[0])
		if err != nil {
			return err
		}
		id = peer.ID
	default:
		return usage("/leave [nickname]")
	}

	tr, err := e.sessions.Leave(id)
	if err != nil {
		return err
	}
	e.transition(tr)

	nick := e.registry.Nickname(id)
	if tr.From == types.SessionActive {
		e.info(id, nick, fmt.Sprintf("left the private session with %s", nick))
	} else {
		e.info(id, nick, fmt.Sprintf("withdrew the connect request to %s", nick))
	}
	return nil
}

// outboundRequest finds an unanswered /connect, for /leave without a session.
func (e *Engine) outboundRequest() (*Session, bool) {
	for _, s := range e.sessions.List() {
		if s.State == types.SessionRequestedOutbound {
			return s, true
		}
	}
	return nil, false
}

func (e *Engine) cmdNick(args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return usage("/nick <name>")
	}

	e.nickname = strings.TrimSpace(args[0])
	e.broadcast(e.hello())
	e.info(e.self, e.nickname, fmt.Sprintf("you are now known as %s", e.nickname))
	return nil
}

// chat sends a plain line: privately inside a focused session, otherwise to
// the active room.
func (e *Engine) chat(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if s, ok := e.sessions.Focused(); ok {
		if err := e.send(s.Peer, &core.PrivateMessage{Body: text}); err != nil {
			return nil
		}
		e.emit(types.DisplayEvent{
			Kind:     types.DisplayPrivateMessage,
			Peer:     e.self,
			Nickname: e.nickname,
			Text:     text,
		})
		return nil
	}

	return e.say(text)
}

func (e *Engine) say(text string) error {
	rm, err := e.rooms.Post(e.activeRoom, e.self, e.nickname, text)
	if err != nil {
		return err
	}

	e.broadcast(&core.RoomMessage{Room: rm.Room, Body: rm.Body})
	e.emit(types.DisplayEvent{
		Kind:     types.DisplayRoomMessage,
		Room:     rm.Room,
		Peer:     e.self,
		Nickname: rm.Nickname,
		Text:     rm.Body,
		Seq:      rm.Seq,
		At:       rm.At,
	})
	return nil
}
