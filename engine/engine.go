// Package engine is the protocol core: one goroutine owns peers, rooms,
// sessions and transfers and applies every event in the order it arrives.
package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/logger"
	"github.com/Dyastin-0/swapbytes/transport"
	"github.com/Dyastin-0/swapbytes/types"
)

const (
	DefaultInboxSize   = 1024
	DefaultDisplaySize = 1024
)

type Options struct {
	SelfID   types.PeerID
	Nickname string

	SharedDir     string
	DownloadDir   string
	ChunkSize     int
	ReorderWindow int
	Compress      bool

	OutboundQueue int
	InboxSize     int
	DisplaySize   int

	Logger logger.Logger
}

type Engine struct {
	opts     Options
	log      logger.Logger
	self     types.PeerID
	nickname string

	registry  *Registry
	rooms     *RoomManager
	sessions  *SessionManager
	transfers *TransferManager
	links     map[types.PeerID]*transport.Link

	activeRoom string
	// prompts lists the peers behind connect or file prompts, oldest first.
	prompts []types.PeerID

	commands map[string]command
	order    []string

	ctx     context.Context
	inbox   chan any
	display chan types.DisplayEvent
	stopped chan struct{}
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.DisplaySize <= 0 {
		opts.DisplaySize = DefaultDisplaySize
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = transport.DefaultQueueSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	e := &Engine{
		opts:     opts,
		log:      opts.Logger.WithStr("self", string(opts.SelfID)),
		self:     opts.SelfID,
		nickname: opts.Nickname,

		registry: NewRegistry(),
		rooms:    NewRoomManager(opts.SelfID),
		sessions: NewSessionManager(),
		transfers: NewTransferManager(TransferOptions{
			SharedDir:     opts.SharedDir,
			DownloadDir:   opts.DownloadDir,
			ChunkSize:     opts.ChunkSize,
			ReorderWindow: opts.ReorderWindow,
			Compress:      opts.Compress,
		}),
		links: make(map[types.PeerID]*transport.Link),

		activeRoom: GlobalRoom,

		ctx:     context.Background(),
		inbox:   make(chan any, opts.InboxSize),
		display: make(chan types.DisplayEvent, opts.DisplaySize),
		stopped: make(chan struct{}),
	}

	e.commands, e.order = commandTable()
	e.registry.OnLost(e.rooms.RemovePeer)
	e.registry.OnLost(e.sessionLost)

	return e
}

type (
	peerAppeared struct {
		id   types.PeerID
		conn io.ReadWriteCloser
	}
	peerDisappeared struct {
		id types.PeerID
	}
	linkClosed struct {
		id   types.PeerID
		link *transport.Link
		err  error
	}
	inbound struct {
		id   types.PeerID
		link *transport.Link
		msg  core.Message
	}
	userCommand struct {
		cmd types.UserCommand
	}
	chunkReady struct {
		peer  types.PeerID
		chunk *core.FileChunk
	}
	streamDone struct {
		peer types.PeerID
		id   string
		hash []byte
		err  error
	}
	snapshotQuery struct {
		reply chan Snapshot
	}
)

// Run consumes the inbox until ctx is done. It must be called once.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.stopped)
	defer e.shutdown()

	e.log.WithStr("nickname", e.nickname).Info("engine started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.inbox:
			e.handle(ev)
		}
	}
}

func (e *Engine) Self() types.PeerID {
	return e.self
}

// PeerAppeared hands a connected stream for id to the engine. The engine owns
// conn from here on.
func (e *Engine) PeerAppeared(id types.PeerID, conn io.ReadWriteCloser) {
	if !e.post(context.Background(), peerAppeared{id: id, conn: conn}) {
		conn.Close()
	}
}

func (e *Engine) PeerDisappeared(id types.PeerID) {
	e.post(context.Background(), peerDisappeared{id: id})
}

func (e *Engine) Submit(cmd types.UserCommand) {
	e.post(context.Background(), userCommand{cmd: cmd})
}

func (e *Engine) Display() <-chan types.DisplayEvent {
	return e.display
}

// Snapshot copies the engine state by round-tripping through the inbox, so
// the result is consistent with every event submitted before it.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !e.post(ctx, snapshotQuery{reply: reply}) {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, ErrStopped
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.stopped:
		return Snapshot{}, ErrStopped
	}
}

func (e *Engine) post(ctx context.Context, ev any) bool {
	select {
	case e.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case peerAppeared:
		e.onPeerAppeared(ev.id, ev.conn)
	case peerDisappeared:
		e.lose(ev.id, "gone")
	case linkClosed:
		if e.links[ev.id] != ev.link {
			return
		}
		if ev.err != nil {
			e.log.WithStr("peer", string(ev.id)).Err(ev.err).Warn("link failed")
			e.lose(ev.id, "connection lost")
			return
		}
		e.lose(ev.id, "disconnected")
	case inbound:
		if e.links[ev.id] != ev.link {
			return
		}
		e.registry.Touch(ev.id)
		e.onMessage(ev.id, ev.msg)
	case userCommand:
		e.runCommand(ev.cmd)
	case chunkReady:
		e.onChunkReady(ev.peer, ev.chunk)
	case streamDone:
		e.onStreamDone(ev)
	case snapshotQuery:
		ev.reply <- e.snapshot()
	}
}

func (e *Engine) onPeerAppeared(id types.PeerID, conn io.ReadWriteCloser) {
	if old, ok := e.links[id]; ok {
		e.log.WithStr("peer", string(id)).Debug("replacing link")
		old.Close()
	}

	e.registry.Discovered(id)

	ctx := e.ctx
	link := transport.NewLink(id, conn, e.opts.OutboundQueue, e.log)
	e.links[id] = link
	link.Start(ctx,
		func(msg core.Message) {
			e.post(ctx, inbound{id: id, link: link, msg: msg})
		},
		func(err error) {
			e.post(ctx, linkClosed{id: id, link: link, err: err})
		},
	)

	e.log.WithStr("peer", string(id)).Info("peer connected")
	e.send(id, e.hello())
}

// lose forgets a peer everywhere. Listeners on the registry close its
// session and drop it from rooms.
func (e *Engine) lose(id types.PeerID, why string) {
	link, ok := e.links[id]
	if !ok {
		return
	}

	nick := e.registry.Nickname(id)
	delete(e.links, id)
	link.Close()

	e.registry.Lost(id)

	e.log.WithStr("peer", string(id)).WithStr("reason", why).Info("peer lost")
	e.info(id, nick, fmt.Sprintf("%s left (%s)", nick, why))
}

func (e *Engine) sessionLost(id types.PeerID) {
	tr := e.sessions.PeerLost(id)
	e.transition(tr)
	if tr.Changed() && tr.From == types.SessionActive {
		e.info(id, "", fmt.Sprintf("session with %s closed", e.registry.Nickname(id)))
	}
}

func (e *Engine) hello() *core.Hello {
	return &core.Hello{Nickname: e.nickname, Rooms: e.rooms.Names()}
}

// send queues msg for peer. Failures are shown, never fatal.
func (e *Engine) send(peer types.PeerID, msg core.Message) error {
	link, ok := e.links[peer]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrPeerUnknown, peer)
		e.fail(err)
		return err
	}

	if err := link.Send(msg); err != nil {
		err = fmt.Errorf("%s to %s: %w", msg.Type(), e.registry.Nickname(peer), err)
		e.log.WithStr("peer", string(peer)).Err(err).Warn("send failed")
		e.fail(err)
		return err
	}
	return nil
}

func (e *Engine) broadcast(msg core.Message) {
	for id := range e.links {
		e.send(id, msg)
	}
}

// transition sends the reply of a session step and cancels any transfer it
// dropped.
func (e *Engine) transition(tr Transition) {
	if tr.Reply != nil {
		e.send(tr.Peer, tr.Reply)
	}
	if tr.Dropped != nil {
		e.transfers.Drop(tr.Dropped)
		e.progress(tr.Peer, tr.Dropped)
	}
}

func (e *Engine) shutdown() {
	for _, s := range e.sessions.List() {
		if t := pending(s); t != nil {
			e.transfers.Drop(t)
		}
	}
	for id, link := range e.links {
		link.Close()
		delete(e.links, id)
	}
	e.log.Info("engine stopped")
}

func (e *Engine) emit(ev types.DisplayEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case e.display <- ev:
	default:
		e.log.WithStr("kind", ev.Kind.String()).Warn("display queue full, dropping event")
	}
}

func (e *Engine) fail(err error) {
	e.emit(types.DisplayEvent{Kind: types.DisplayError, Text: err.Error(), Err: err})
}

func (e *Engine) info(peer types.PeerID, nick, text string) {
	e.emit(types.DisplayEvent{Kind: types.DisplayInfo, Peer: peer, Nickname: nick, Text: text})
}

func (e *Engine) prompt(peer types.PeerID, text string) {
	e.prompts = append(slices.DeleteFunc(e.prompts, func(p types.PeerID) bool { return p == peer }), peer)
	e.emit(types.DisplayEvent{
		Kind:     types.DisplaySessionPrompt,
		Peer:     peer,
		Nickname: e.registry.Nickname(peer),
		Text:     text,
	})
}

func (e *Engine) progress(peer types.PeerID, t *Transfer) {
	e.emit(types.DisplayEvent{
		Kind:     types.DisplayTransferProgress,
		Peer:     peer,
		Nickname: e.registry.Nickname(peer),
		Progress: t.Progress(),
		Err:      t.Err,
	})
}
