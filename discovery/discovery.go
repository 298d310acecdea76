// Package discovery finds peers on the local network with multicast
// announcements and opens one TCP stream to each of them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Dyastin-0/swapbytes/logger"
	"github.com/Dyastin-0/swapbytes/types"
	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListenAddr = ":4270"
	DefaultGroupAddr  = "239.255.42.99:42069"
	DefaultInterval   = 2 * time.Second
	DefaultTimeout    = 6 * time.Second
	DefaultTTL        = 1

	handshakeTimeout = 5 * time.Second
)

var ErrNoMulticast = errors.New("no interface could join the multicast group")

// Sink receives peers as their streams come up and go away.
type Sink interface {
	PeerAppeared(id types.PeerID, conn io.ReadWriteCloser)
	PeerDisappeared(id types.PeerID)
}

type Options struct {
	ID       types.PeerID
	Nickname string

	ListenAddr string
	GroupAddr  string
	Interval   time.Duration
	Timeout    time.Duration
	TTL        int

	Logger logger.Logger
}

// Peer is what discovery knows about a remote peer.
type Peer struct {
	ID     types.PeerID
	Name   string
	Addr   string
	Seen   time.Time
	Linked bool
}

type peer struct {
	Peer
	conn    *trackedConn
	dialing bool
}

type Discovery struct {
	opts Options
	log  logger.Logger
	sink Sink
	now  func() time.Time
	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu    sync.Mutex
	peers map[types.PeerID]*peer

	ln    net.Listener
	port  int
	pc    *ipv4.PacketConn
	group *net.UDPAddr
}

func New(opts Options, sink Sink) *Discovery {
	if opts.ID == "" {
		opts.ID = types.PeerID(uuid.NewString())
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultListenAddr
	}
	if opts.GroupAddr == "" {
		opts.GroupAddr = DefaultGroupAddr
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	dialer := &net.Dialer{Timeout: handshakeTimeout}
	return &Discovery{
		opts:  opts,
		log:   opts.Logger.WithStr("component", "discovery"),
		sink:  sink,
		now:   time.Now,
		dial:  func(ctx context.Context, addr string) (net.Conn, error) { return dialer.DialContext(ctx, "tcp", addr) },
		peers: make(map[types.PeerID]*peer),
	}
}

func (d *Discovery) ID() types.PeerID {
	return d.opts.ID
}

// Listen binds the stream listener. Run calls it if it was not called before.
func (d *Discovery) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", d.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.opts.ListenAddr, err)
	}

	d.ln = ln
	d.port = ln.Addr().(*net.TCPAddr).Port
	return nil
}

// Addr is the bound stream address, nil before Listen.
func (d *Discovery) Addr() net.Addr {
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// Run announces the local peer, tracks remote ones and accepts streams until
// ctx is done.
func (d *Discovery) Run(ctx context.Context) error {
	if d.ln == nil {
		if err := d.Listen(ctx); err != nil {
			return err
		}
	}
	if err := d.joinGroup(ctx); err != nil {
		d.ln.Close()
		return err
	}

	d.log.WithStr("id", string(d.opts.ID)).
		WithInt("port", d.port).
		WithStr("group", d.group.String()).
		Info("discovery started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.acceptLoop(ctx) })
	g.Go(func() error { return d.readLoop(ctx) })
	g.Go(func() error { return d.announceLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		d.announce(TypeBye)
		d.ln.Close()
		d.pc.Close()
		return nil
	})

	err := g.Wait()
	d.log.Info("discovery stopped")
	return err
}

// Peers lists every peer currently announcing, sorted by id.
func (d *Discovery) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		info := p.Peer
		info.Linked = p.conn != nil
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Discovery) joinGroup(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", d.opts.GroupAddr)
	if err != nil {
		return fmt.Errorf("resolve group %s: %w", d.opts.GroupAddr, err)
	}
	if !group.IP.IsMulticast() {
		return fmt.Errorf("%s is not a multicast address", group.IP)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(group.Port))
	if err != nil {
		return fmt.Errorf("listen udp %d: %w", group.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return err
	}

	joined := 0
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
			d.log.WithStr("iface", iface.Name).Err(err).Debug("join group failed")
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return ErrNoMulticast
	}

	if err := pc.SetMulticastTTL(d.opts.TTL); err != nil {
		d.log.Err(err).Warn("set multicast ttl")
	}
	// several peers on one host must hear each other
	if err := pc.SetMulticastLoopback(true); err != nil {
		d.log.Err(err).Warn("set multicast loopback")
	}

	d.pc = pc
	d.group = group
	return nil
}

func (d *Discovery) announceLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.announce(TypeHello)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.announce(TypeHello)
			d.expire(d.now())
		}
	}
}

func (d *Discovery) announce(typ string) {
	a := &Announcement{Type: typ, ID: d.opts.ID, Name: d.opts.Nickname, Port: d.port}
	b, err := a.Encode()
	if err != nil {
		d.log.Err(err).Error("encode announcement")
		return
	}

	if _, err := d.pc.WriteTo(b, nil, d.group); err != nil {
		d.log.Err(err).Debug("announce failed")
	}
}

func (d *Discovery) readLoop(ctx context.Context) error {
	buf := make([]byte, maxAnnouncementSize)
	for {
		n, _, src, err := d.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read announcement: %w", err)
		}

		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		a, err := ParseAnnouncement(buf[:n])
		if err != nil {
			d.log.WithStr("from", udp.String()).Err(err).Debug("dropping announcement")
			continue
		}

		d.observe(ctx, a, udp.IP)
	}
}

// observe applies one announcement heard from ip. Of two peers, the one with
// the lower id dials.
func (d *Discovery) observe(ctx context.Context, a *Announcement, ip net.IP) {
	if a.ID == d.opts.ID {
		return
	}
	if a.Type == TypeBye {
		d.forget(a.ID, "said bye")
		return
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))

	d.mu.Lock()
	p, ok := d.peers[a.ID]
	if !ok {
		p = &peer{Peer: Peer{ID: a.ID}}
		d.peers[a.ID] = p
		d.log.WithStr("peer", string(a.ID)).WithStr("addr", addr).Debug("peer discovered")
	}
	p.Name, p.Addr, p.Seen = a.Name, addr, d.now()

	dial := p.conn == nil && !p.dialing && d.opts.ID < a.ID
	if dial {
		p.dialing = true
	}
	d.mu.Unlock()

	if dial {
		go d.connect(ctx, a.ID, addr)
	}
}

func (d *Discovery) connect(ctx context.Context, id types.PeerID, addr string) {
	log := d.log.WithStr("peer", string(id)).WithStr("addr", addr)

	conn, err := d.dial(ctx, addr)
	if err == nil {
		conn.SetDeadline(d.now().Add(handshakeTimeout))
		err = writeHandshake(conn, d.opts.ID)
		conn.SetDeadline(time.Time{})
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		log.Err(err).Warn("dial failed")

		d.mu.Lock()
		if p, ok := d.peers[id]; ok {
			p.dialing = false
		}
		d.mu.Unlock()
		return
	}

	d.attach(id, conn, false)
}

func (d *Discovery) acceptLoop(ctx context.Context) error {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go d.handshake(conn)
	}
}

func (d *Discovery) handshake(conn net.Conn) {
	log := d.log.WithStr("remote", conn.RemoteAddr().String())

	conn.SetReadDeadline(d.now().Add(handshakeTimeout))
	id, err := readHandshake(conn)
	conn.SetReadDeadline(time.Time{})
	if err == nil && id == d.opts.ID {
		err = fmt.Errorf("%w: dialed ourselves", ErrBadHandshake)
	}
	if err != nil {
		log.Err(err).Warn("handshake failed")
		conn.Close()
		return
	}

	d.attach(id, conn, true)
}

// attach hands a fresh stream to the sink. A dialed stream for a peer that
// said bye in the meantime is dropped.
func (d *Discovery) attach(id types.PeerID, conn net.Conn, accepted bool) {
	tc := &trackedConn{Conn: conn}
	tc.onClose = func() { d.detach(id, tc) }

	d.mu.Lock()
	p, ok := d.peers[id]
	if !ok {
		if !accepted {
			d.mu.Unlock()
			conn.Close()
			return
		}
		p = &peer{Peer: Peer{ID: id, Addr: conn.RemoteAddr().String(), Seen: d.now()}}
		d.peers[id] = p
	}
	p.dialing = false
	p.conn = tc
	d.mu.Unlock()

	d.log.WithStr("peer", string(id)).WithBool("accepted", accepted).Info("stream up")
	d.sink.PeerAppeared(id, tc)
}

// detach runs when the stream is closed by anyone, so the next announcement
// can dial again.
func (d *Discovery) detach(id types.PeerID, tc *trackedConn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.peers[id]; ok && p.conn == tc {
		p.conn = nil
	}
}

func (d *Discovery) forget(id types.PeerID, why string) {
	d.mu.Lock()
	p, ok := d.peers[id]
	if ok {
		delete(d.peers, id)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	d.log.WithStr("peer", string(id)).WithStr("reason", why).Info("peer gone")
	if p.conn != nil {
		d.sink.PeerDisappeared(id)
	}
}

// expire forgets peers that have been silent for longer than the timeout.
func (d *Discovery) expire(now time.Time) {
	var stale []types.PeerID

	d.mu.Lock()
	for id, p := range d.peers {
		if now.Sub(p.Seen) > d.opts.Timeout {
			stale = append(stale, id)
		}
	}
	d.mu.Unlock()

	for _, id := range stale {
		d.forget(id, "timed out")
	}
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.onClose)
	return err
}
