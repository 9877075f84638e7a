package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dyastin-0/teleport/logger"
)

// Announcer broadcasts one announcement until its context ends.
type Announcer struct {
	hello []byte
	log   logger.Logger

	// Target defaults to the limited broadcast address on the discovery port.
	Target   *net.UDPAddr
	Interval time.Duration
}

func NewAnnouncer(discoveryPort int, a *Announcement, log logger.Logger) (*Announcer, error) {
	if log == nil {
		log = logger.Nop()
	}

	hello, err := a.Encode()
	if err != nil {
		return nil, err
	}

	return &Announcer{
		hello:    hello,
		log:      log,
		Target:   &net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort},
		Interval: HelloInterval,
	}, nil
}

func (a *Announcer) Run(ctx context.Context) error {
	ln, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return err
	}
	defer ln.Close()

	raw, err := ln.SyscallConn()
	if err != nil {
		return err
	}

	var serr error
	if err := raw.Control(func(fd uintptr) { serr = setBroadcast(fd) }); err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("failed to enable broadcast: %w", serr)
	}

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		if _, err := ln.WriteToUDP(a.hello, a.Target); err != nil {
			a.log.WithStr("err", err.Error()).Debug("hello failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Peer is a receiver heard on the network.
type Peer struct {
	Name      string
	Addr      *net.UDPAddr
	Version   string
	LastHello time.Time
}

// Browser collects announcements from receivers using the same protocol id.
type Browser struct {
	addr     string
	protocol uint32
	ln       *net.UDPConn
	log      logger.Logger

	mu    sync.Mutex
	peers map[string]*Peer

	now func() time.Time
}

func NewBrowser(addr string, protocol uint32, log logger.Logger) *Browser {
	if log == nil {
		log = logger.Nop()
	}

	return &Browser{
		addr:     addr,
		protocol: protocol,
		log:      log,
		peers:    make(map[string]*Peer),
		now:      time.Now,
	}
}

// Listen binds the discovery address.
func (b *Browser) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", b.addr)
	if err != nil {
		return err
	}

	ln, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}

	b.ln = ln
	return nil
}

func (b *Browser) LocalAddr() *net.UDPAddr {
	return b.ln.LocalAddr().(*net.UDPAddr)
}

// Serve reads announcements until ctx ends. Listen must be called first.
func (b *Browser) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.ln.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, remote, err := b.ln.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.log.WithStr("err", err.Error()).Debug("read failed")
			continue
		}

		b.handle(buf[:n], remote)
	}
}

func (b *Browser) handle(data []byte, remote *net.UDPAddr) {
	a, err := Parse(data)
	if err != nil {
		b.log.WithStr("from", remote.String()).WithStr("err", err.Error()).Debug("ignored announcement")
		return
	}

	if a.Protocol != b.protocol {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	addr := &net.UDPAddr{IP: remote.IP, Port: a.Port}
	key := addr.String()

	if p, ok := b.peers[key]; ok {
		p.LastHello = b.now()
		return
	}

	b.log.WithStr("peer", a.Name).WithStr("addr", key).Info("receiver found")
	b.peers[key] = &Peer{
		Name:      a.Name,
		Addr:      addr,
		Version:   a.Version,
		LastHello: b.now(),
	}
}

// Peers returns the receivers heard within PeerTTL, sorted by name.
func (b *Browser) Peers() []Peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers := make([]Peer, 0, len(b.peers))
	for key, p := range b.peers {
		if b.now().Sub(p.LastHello) > PeerTTL {
			delete(b.peers, key)
			continue
		}
		peers = append(peers, *p)
	}

	sort.Slice(peers, func(i, j int) bool {
		ni, nj := strings.ToLower(peers[i].Name), strings.ToLower(peers[j].Name)
		if ni != nj {
			return ni < nj
		}
		return peers[i].Addr.String() < peers[j].Addr.String()
	})

	return peers
}
