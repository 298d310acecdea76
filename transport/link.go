// Package transport owns the byte stream to a single peer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/logger"
	"github.com/Dyastin-0/swapbytes/types"
)

var (
	ErrPeerUnresponsive = errors.New("peer unresponsive")
	ErrLinkClosed       = errors.New("link closed")
)

const DefaultQueueSize = 256

// Link frames messages over one bidirectional stream. A reader goroutine
// decodes inbound frames in arrival order; a writer goroutine drains a
// bounded queue so Send never blocks.
type Link struct {
	peer types.PeerID
	conn io.ReadWriteCloser
	log  logger.Logger

	out     chan []byte
	drained chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	startOnce sync.Once
}

func NewLink(peer types.PeerID, conn io.ReadWriteCloser, queue int, log logger.Logger) *Link {
	if queue <= 0 {
		queue = DefaultQueueSize
	}

	return &Link{
		peer:    peer,
		conn:    conn,
		log:     log.WithStr("peer", string(peer)),
		out:     make(chan []byte, queue),
		drained: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (l *Link) Peer() types.PeerID {
	return l.peer
}

// Start launches the reader and writer. onMessage is called from the reader
// goroutine for every frame; onClose is called exactly once when the reader
// stops, with nil on a clean end of stream.
func (l *Link) Start(ctx context.Context, onMessage func(core.Message), onClose func(error)) {
	l.startOnce.Do(func() {
		go l.writeLoop(ctx)
		go l.readLoop(onMessage, onClose)
	})
}

// Send queues msg for the writer. It fails fast with ErrPeerUnresponsive when
// the queue is full.
func (l *Link) Send(msg core.Message) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	frame, err := core.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case l.out <- frame:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s, %d frames queued", ErrPeerUnresponsive, msg.Type(), len(l.out))
	}
}

// Pending is the number of frames waiting for the writer.
func (l *Link) Pending() int {
	return len(l.out)
}

func (l *Link) Capacity() int {
	return cap(l.out)
}

// Drained fires after the writer flushes a frame. It only ever holds one
// signal, so a single waiter should re-check Pending after each wakeup.
func (l *Link) Drained() <-chan struct{} {
	return l.drained
}

func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *Link) readLoop(onMessage func(core.Message), onClose func(error)) {
	var err error
	defer func() {
		l.Close()
		onClose(err)
	}()

	for {
		var msg core.Message
		msg, err = core.ReadMessage(l.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			select {
			case <-l.done:
				// closed locally, whatever the reader saw is noise
				err = nil
			default:
			}
			return
		}

		onMessage(msg)
	}
}

func (l *Link) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case frame := <-l.out:
			if _, err := l.conn.Write(frame); err != nil {
				l.log.Err(err).Warn("write failed, closing link")
				l.Close()
				return
			}

			select {
			case l.drained <- struct{}{}:
			default:
			}
		}
	}
}
