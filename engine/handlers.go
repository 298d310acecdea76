package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/transport"
	"github.com/Dyastin-0/swapbytes/types"
)

// paceInterval bounds how long the streamer sleeps when the writer has not
// signalled progress.
const paceInterval = 50 * time.Millisecond

func (e *Engine) onMessage(id types.PeerID, msg core.Message) {
	log := e.log.WithStr("peer", string(id)).WithStr("type", msg.Type().String())
	log.Debug("inbound")

	switch msg := msg.(type) {
	case *core.Hello:
		e.onHello(id, msg)

	case *core.RoomMessage:
		nick := e.registry.Nickname(id)
		rm, err := e.rooms.Post(msg.Room, id, nick, msg.Body)
		if err != nil {
			log.WithStr("room", msg.Room).Debug("ignoring post for a room we are not in")
			return
		}
		e.emit(types.DisplayEvent{
			Kind:     types.DisplayRoomMessage,
			Room:     rm.Room,
			Peer:     id,
			Nickname: rm.Nickname,
			Text:     rm.Body,
			Seq:      rm.Seq,
			At:       rm.At,
		})

	case *core.RoomJoin:
		if err := e.rooms.Join(msg.Room, id); err != nil {
			log.Err(err).Debug("bad room join")
		}

	case *core.RoomLeave:
		if err := e.rooms.Leave(msg.Room, id); err != nil {
			log.Err(err).Debug("bad room leave")
		}

	case *core.ConnectRequest:
		tr := e.sessions.OnConnectRequest(id)
		e.transition(tr)
		nick := e.registry.Nickname(id)
		switch {
		case tr.To == types.SessionRequestedInbound && tr.Changed():
			e.prompt(id, fmt.Sprintf("%s wants to start a private session. /accept or /reject", nick))
		case tr.To == types.SessionActive && tr.Changed():
			e.info(id, nick, fmt.Sprintf("session established with %s", nick))
		}

	case *core.ConnectAccept:
		if tr := e.sessions.OnConnectAccept(id); tr.Changed() {
			nick := e.registry.Nickname(id)
			e.info(id, nick, fmt.Sprintf("session established with %s", nick))
		}

	case *core.ConnectReject:
		if tr := e.sessions.OnConnectReject(id); tr.Changed() {
			nick := e.registry.Nickname(id)
			e.info(id, nick, fmt.Sprintf("connection rejected by %s (%s)", nick, msg.Reason))
		}

	case *core.SessionLeave:
		tr := e.sessions.OnLeave(id)
		e.transition(tr)
		if !tr.Changed() {
			return
		}
		nick := e.registry.Nickname(id)
		if tr.From == types.SessionActive {
			e.info(id, nick, fmt.Sprintf("%s left the private session", nick))
		} else {
			e.info(id, nick, fmt.Sprintf("%s withdrew the connect request", nick))
		}

	case *core.PrivateMessage:
		if _, err := e.sessions.Active(id); err != nil {
			log.Debug("private message outside a session")
			return
		}
		e.emit(types.DisplayEvent{
			Kind:     types.DisplayPrivateMessage,
			Peer:     id,
			Nickname: e.registry.Nickname(id),
			Text:     msg.Body,
		})

	case *core.FileRequest:
		s, _ := e.sessions.Get(id)
		t, reply := e.transfers.OnRequest(s, msg)
		if reply != nil {
			e.send(id, reply)
		}
		if t != nil {
			e.prompt(id, fmt.Sprintf("%s requests %q. /accept or /reject", e.registry.Nickname(id), t.Filename))
			e.progress(id, t)
		}

	case *core.FileAccept:
		s, t := e.sessionTransfer(id)
		reply, err := e.transfers.OnAccept(s, msg)
		e.answer(id, t, reply, err)

	case *core.FileReject:
		s, t := e.sessionTransfer(id)
		if err := e.transfers.OnReject(s, msg); err == nil && t != nil && t.State == types.TransferRejected {
			e.progress(id, t)
		}

	case *core.FileChunk:
		s, t := e.sessionTransfer(id)
		changed, reply, err := e.transfers.OnChunk(s, msg)
		if changed {
			e.answer(id, t, reply, err)
		}

	case *core.FileComplete:
		s, t := e.sessionTransfer(id)
		changed, reply, err := e.transfers.OnComplete(s, msg)
		if changed {
			e.answer(id, t, reply, err)
		}

	case *core.FileCancel:
		s, t := e.sessionTransfer(id)
		changed, err := e.transfers.OnCancel(s, msg)
		if changed {
			e.answer(id, t, nil, err)
		}
	}
}

func (e *Engine) onHello(id types.PeerID, msg *core.Hello) {
	before, _ := e.registry.Lookup(id)
	if err := e.registry.ObserveNickname(id, msg.Nickname); err != nil {
		return
	}
	e.rooms.Learn(id, msg.Rooms)

	switch {
	case before.Nickname == "":
		e.info(id, msg.Nickname, fmt.Sprintf("%s is online", msg.Nickname))
	case before.Nickname != msg.Nickname:
		e.info(id, msg.Nickname, fmt.Sprintf("%s is now known as %s", before.Nickname, msg.Nickname))
	}
}

// sessionTransfer returns the session with id and its transfer, pending or
// not, for progress reporting.
func (e *Engine) sessionTransfer(id types.PeerID) (*Session, *Transfer) {
	s, ok := e.sessions.Get(id)
	if !ok {
		return nil, nil
	}
	return s, s.Transfer
}

// answer sends a transfer reply, reports progress and shows err.
func (e *Engine) answer(peer types.PeerID, t *Transfer, reply core.Message, err error) {
	if reply != nil {
		e.send(peer, reply)
	}
	if t != nil {
		e.progress(peer, t)
	}
	if err != nil {
		e.log.WithStr("peer", string(peer)).Err(err).Warn("transfer failed")
		e.fail(err)
	}
}

// startStream launches the reader for an accepted outbound transfer.
func (e *Engine) startStream(s *Session, t *Transfer) {
	link, ok := e.links[s.Peer]
	if !ok {
		e.answer(s.Peer, t, nil, fmt.Errorf("%w: %s", ErrPeerUnknown, s.Peer))
		return
	}

	ctx, cancel := context.WithCancel(e.ctx)
	t.stop = cancel
	t.ack = make(chan struct{}, 1)
	t.State = types.TransferTransferring

	go e.stream(ctx, link, s.Peer, t.ID, t.Path, t.ack)
}

// stream runs on its own goroutine. It never touches engine state: chunks go
// through the inbox and the orchestrator writes them to the link. After each
// chunk it waits for the orchestrator's ack and for the link queue to drain
// below half.
func (e *Engine) stream(ctx context.Context, link *transport.Link, peer types.PeerID, id, path string, ack <-chan struct{}) {
	high := link.Capacity() / 2
	if high < 1 {
		high = 1
	}

	hash, err := streamFile(ctx, id, path, e.opts.ChunkSize, e.opts.Compress, func(c *core.FileChunk) error {
		if !e.post(ctx, chunkReady{peer: peer, chunk: c}) {
			return ctx.Err()
		}

		select {
		case <-ack:
		case <-ctx.Done():
			return ctx.Err()
		}

		for link.Pending() >= high {
			select {
			case <-link.Drained():
			case <-time.After(paceInterval):
			case <-link.Done():
				return transport.ErrLinkClosed
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if ctx.Err() != nil {
		return
	}
	e.post(ctx, streamDone{peer: peer, id: id, hash: hash, err: err})
}

func (e *Engine) onChunkReady(peer types.PeerID, c *core.FileChunk) {
	s, t := e.sessionTransfer(peer)
	if !e.transfers.Sent(s, c) {
		return
	}

	if err := e.send(peer, c); err != nil {
		reply := e.transfers.Fail(s, c.ID, err)
		e.answer(peer, t, reply, nil)
		return
	}

	e.progress(peer, t)
	select {
	case t.ack <- struct{}{}:
	default:
	}
}

func (e *Engine) onStreamDone(ev streamDone) {
	s, t := e.sessionTransfer(ev.peer)

	if ev.err != nil {
		if errors.Is(ev.err, transport.ErrLinkClosed) {
			return
		}
		reply := e.transfers.Fail(s, ev.id, ev.err)
		if reply != nil {
			e.answer(ev.peer, t, reply, ev.err)
		}
		return
	}

	if reply, ok := e.transfers.Streamed(s, ev.id, ev.hash); ok {
		e.send(ev.peer, reply)
	}
}
