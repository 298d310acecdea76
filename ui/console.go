// Package ui is the line oriented console: it reads commands from the user
// and prints what the engine reports.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Dyastin-0/swapbytes/logger"
	"github.com/Dyastin-0/swapbytes/progress"
	"github.com/Dyastin-0/swapbytes/styles"
	"github.com/Dyastin-0/swapbytes/types"
)

// Engine is the part of the engine the console drives.
type Engine interface {
	Submit(cmd types.UserCommand)
	Display() <-chan types.DisplayEvent
}

type Console struct {
	in   io.Reader
	out  io.Writer
	eng  Engine
	self types.PeerID
	log  logger.Logger
	bars *progress.Progress

	// states remembers the last printed state of each transfer.
	states map[string]types.TransferState
}

func New(eng Engine, self types.PeerID, in io.Reader, out io.Writer, log logger.Logger) *Console {
	if log == nil {
		log = logger.Nop()
	}

	return &Console{
		in:     in,
		out:    out,
		eng:    eng,
		self:   self,
		log:    log.WithStr("component", "ui"),
		bars:   progress.New(out),
		states: make(map[string]types.TransferState),
	}
}

// Parse turns one input line into a command. Lines starting with "/" are
// commands; "//" escapes a chat line that starts with a slash.
func Parse(line string) (types.UserCommand, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.UserCommand{}, false
	}

	if strings.HasPrefix(line, "//") {
		return types.UserCommand{Args: []string{line[1:]}}, true
	}
	if !strings.HasPrefix(line, "/") {
		return types.UserCommand{Args: []string{line}}, true
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return types.UserCommand{}, false
	}
	return types.UserCommand{Verb: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

func isQuit(cmd types.UserCommand) bool {
	return cmd.Verb == "quit" || cmd.Verb == "exit"
}

// Run reads input until /quit, end of input or ctx is done, while printing
// display events on another goroutine.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.render(ctx)
	}()
	defer func() {
		cancel()
		<-done
		c.bars.Close()
	}()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			cmd, ok := Parse(line)
			if !ok {
				continue
			}
			if isQuit(cmd) {
				c.log.Debug("quit requested")
				return nil
			}
			c.eng.Submit(cmd)
		}
	}
}

func (c *Console) render(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.eng.Display():
			if text := c.Render(ev); text != "" {
				fmt.Fprintln(c.out, text)
			}
		}
	}
}

// Render formats one event. It also feeds transfer progress to the bars and
// returns "" when there is nothing new to print.
func (c *Console) Render(ev types.DisplayEvent) string {
	switch ev.Kind {
	case types.DisplayRoomMessage:
		return fmt.Sprintf("%s %s %s: %s",
			styles.MUTED.Render(ev.At.Format("15:04")),
			styles.ROOM.Render("["+ev.Room+"]"),
			c.nick(ev.Peer, ev.Nickname),
			ev.Text)

	case types.DisplayPrivateMessage:
		return fmt.Sprintf("%s %s %s: %s",
			styles.MUTED.Render(ev.At.Format("15:04")),
			styles.PRIVATE.Render("(private)"),
			c.nick(ev.Peer, ev.Nickname),
			ev.Text)

	case types.DisplayPeerList:
		return renderPeers(ev.Peers)

	case types.DisplayRoomList:
		return renderRooms(ev.Rooms)

	case types.DisplaySessionPrompt:
		return styles.PROMPT.Render("? " + ev.Text)

	case types.DisplayTransferProgress:
		return c.renderTransfer(ev)

	case types.DisplayError:
		return styles.ERROR.Render("error: " + ev.Text)

	case types.DisplayHelp:
		return styles.INFO.Render(ev.Text)

	case types.DisplayInfo:
		return styles.INFO.Render("* " + ev.Text)
	}

	return ""
}

func (c *Console) nick(peer types.PeerID, nickname string) string {
	if peer == c.self {
		return styles.SELF.Render(nickname)
	}
	return styles.Nick(nickname)
}

func renderPeers(peers []types.PeerInfo) string {
	if len(peers) == 0 {
		return styles.INFO.Render("no peers found")
	}

	var b strings.Builder
	b.WriteString(styles.TITLE.Render("peers"))
	for _, p := range peers {
		id := string(p.ID)
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("\n  %s %s", styles.Nick(p.Nickname), styles.MUTED.Render("("+id+")"))
		if p.Session != types.SessionNone {
			line += " " + styles.SUCCESS.Render(p.Session.String())
		}
		b.WriteString(line)
	}
	return b.String()
}

func renderRooms(rooms []types.RoomInfo) string {
	var b strings.Builder
	b.WriteString(styles.TITLE.Render("rooms"))
	for _, r := range rooms {
		marker := " "
		if r.Active {
			marker = "*"
		}

		line := fmt.Sprintf("\n %s %s %s", marker, styles.ROOM.Render(r.Name),
			styles.MUTED.Render(fmt.Sprintf("(%d members)", r.Members)))
		if !r.Joined {
			line += " " + styles.INFO.Render("advertised, /join "+r.Name)
		}
		b.WriteString(line)
	}
	return b.String()
}

// renderTransfer prints a line when a transfer changes state; byte counts
// only move the bar.
func (c *Console) renderTransfer(ev types.DisplayEvent) string {
	pr := ev.Progress
	if pr == nil {
		return ""
	}
	c.bars.Update(pr)

	if last, ok := c.states[pr.TransferID]; ok && last == pr.State {
		return ""
	}
	c.states[pr.TransferID] = pr.State
	if pr.State.Terminal() {
		delete(c.states, pr.TransferID)
	}

	who := styles.Nick(ev.Nickname)
	switch pr.State {
	case types.TransferRequested:
		if pr.Direction == types.Inbound {
			return styles.INFO.Render(fmt.Sprintf("* requested %q from ", pr.Filename)) + who
		}
		return ""
	case types.TransferAccepted:
		return styles.INFO.Render(fmt.Sprintf("* %q accepted, %d bytes", pr.Filename, pr.Total))
	case types.TransferTransferring:
		return ""
	case types.TransferComplete:
		if pr.Direction == types.Inbound {
			return styles.SUCCESS.Render(fmt.Sprintf("received %q, saved to %s", pr.Filename, pr.Path))
		}
		return styles.SUCCESS.Render(fmt.Sprintf("sent %q", pr.Filename))
	case types.TransferRejected:
		return styles.ERROR.Render(fmt.Sprintf("%q was rejected", pr.Filename))
	case types.TransferCancelled:
		return styles.ERROR.Render(fmt.Sprintf("%q cancelled", pr.Filename))
	case types.TransferFailed:
		reason := "unknown error"
		if pr.Err != nil {
			reason = pr.Err.Error()
		}
		return styles.ERROR.Render(fmt.Sprintf("%q failed: %s", pr.Filename, reason))
	}
	return ""
}
