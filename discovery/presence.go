package discovery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dyastin-0/swapbytes/types"
)

const (
	TypeHello = "hello"
	TypeBye   = "bye"

	// maxAnnouncementSize bounds a single datagram read.
	maxAnnouncementSize = 1024
)

var (
	ErrMalformedAnnouncement = errors.New("malformed announcement")

	validTypes = map[string]bool{
		TypeHello: true,
		TypeBye:   true,
	}
)

// Announcement is the presence datagram sent to the multicast group.
type Announcement struct {
	Type string       `json:"type"`
	ID   types.PeerID `json:"id"`
	Name string       `json:"name,omitempty"`
	Port int          `json:"port,omitempty"`
}

func (a *Announcement) Encode() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

func (a *Announcement) Validate() error {
	if !validTypes[a.Type] {
		return fmt.Errorf("%w: invalid type %q", ErrMalformedAnnouncement, a.Type)
	}
	if a.ID == "" || len(a.ID) > maxIDLen {
		return fmt.Errorf("%w: bad id", ErrMalformedAnnouncement)
	}
	if a.Type == TypeHello && (a.Port <= 0 || a.Port > 65535) {
		return fmt.Errorf("%w: bad port %d", ErrMalformedAnnouncement, a.Port)
	}
	return nil
}

func ParseAnnouncement(b []byte) (*Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
