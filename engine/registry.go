package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/Dyastin-0/swapbytes/types"
)

type Peer struct {
	ID       types.PeerID
	Nickname string
	LastSeen time.Time

	// seen orders peers by recency without depending on clock resolution.
	seen uint64
}

// Registry tracks the peers discovery currently reports.
type Registry struct {
	peers  map[types.PeerID]*Peer
	clock  uint64
	now    func() time.Time
	onLost []func(types.PeerID)
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[types.PeerID]*Peer),
		now:   time.Now,
	}
}

// OnLost registers fn to run, in registration order, whenever a peer is lost.
func (r *Registry) OnLost(fn func(types.PeerID)) {
	r.onLost = append(r.onLost, fn)
}

// Discovered adds id and reports whether it was new.
func (r *Registry) Discovered(id types.PeerID) bool {
	if _, ok := r.peers[id]; ok {
		r.Touch(id)
		return false
	}

	r.peers[id] = &Peer{ID: id}
	r.Touch(id)
	return true
}

// Lost notifies listeners, then removes id. Loss is final: a later
// Discovered with the same id starts from a blank entry.
func (r *Registry) Lost(id types.PeerID) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}

	for _, fn := range r.onLost {
		fn(id)
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) ObserveNickname(id types.PeerID, nickname string) error {
	p, ok := r.peers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerUnknown, id)
	}

	p.Nickname = nickname
	r.Touch(id)
	return nil
}

func (r *Registry) Touch(id types.PeerID) {
	p, ok := r.peers[id]
	if !ok {
		return
	}

	r.clock++
	p.seen = r.clock
	p.LastSeen = r.now()
}

func (r *Registry) Lookup(id types.PeerID) (Peer, bool) {
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// LookupByNickname resolves a nickname to the most recently seen peer using
// it. Nicknames are not unique.
func (r *Registry) LookupByNickname(name string) (Peer, error) {
	var best *Peer
	for _, p := range r.peers {
		if p.Nickname != name {
			continue
		}
		if best == nil || p.seen > best.seen {
			best = p
		}
	}

	if best == nil {
		return Peer{}, fmt.Errorf("%w: %q", ErrPeerUnknown, name)
	}
	return *best, nil
}

// Nickname returns the display name for id, falling back to a short id.
func (r *Registry) Nickname(id types.PeerID) string {
	if p, ok := r.peers[id]; ok && p.Nickname != "" {
		return p.Nickname
	}
	return shortID(id)
}

func (r *Registry) List() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Nickname != out[j].Nickname {
			return out[i].Nickname < out[j].Nickname
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Len() int {
	return len(r.peers)
}

func shortID(id types.PeerID) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
