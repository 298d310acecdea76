package discovery

import (
	"errors"
	"fmt"
	"io"

	"github.com/Dyastin-0/swapbytes/types"
)

const maxIDLen = 255

var ErrBadHandshake = errors.New("bad handshake")

// writeHandshake sends the dialer's id as a length-prefixed string, the only
// bytes on a link before framing starts.
func writeHandshake(w io.Writer, id types.PeerID) error {
	if id == "" || len(id) > maxIDLen {
		return fmt.Errorf("%w: id length %d", ErrBadHandshake, len(id))
	}

	buf := make([]byte, 1+len(id))
	buf[0] = byte(len(id))
	copy(buf[1:], id)

	_, err := w.Write(buf)
	return err
}

func readHandshake(r io.Reader) (types.PeerID, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", err
	}
	if n[0] == 0 {
		return "", fmt.Errorf("%w: empty id", ErrBadHandshake)
	}

	id := make([]byte, n[0])
	if _, err := io.ReadFull(r, id); err != nil {
		return "", err
	}
	return types.PeerID(id), nil
}
