// Package transport is a connection over UDP that carries sequence numbers,
// acks and RTT but never retransmits. Reliability is left to the caller.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Dyastin-0/teleport/logger"
	"golang.org/x/net/ipv4"
)

const (
	// HeaderSize is protocol id, sequence, ack and ack bits.
	HeaderSize = 16

	// MaxDatagram bounds what the reader accepts from the socket.
	MaxDatagram = 1400

	// tosLowDelay is IPTOS_LOWDELAY.
	tosLowDelay = 0x10

	inboxSize = 256
)

var (
	ErrNotStarted   = errors.New("connection not started")
	ErrNoPeer       = errors.New("no peer address")
	ErrTooLarge     = errors.New("payload too large")
	ErrDisconnected = errors.New("connection lost")
)

type Mode uint8

const (
	ModeNone Mode = iota
	ModeClient
	ModeServer
)

type State uint8

const (
	StateDisconnected State = iota
	StateListening
	StateConnecting
	StateConnectFail
	StateConnected
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateListening:    "listening",
	StateConnecting:   "connecting",
	StateConnectFail:  "connect failed",
	StateConnected:    "connected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Stats is a snapshot of the reliability counters. Bandwidth is in kbit/s.
type Stats struct {
	Sent           uint32
	Received       uint32
	Acked          uint32
	Lost           uint32
	RTT            time.Duration
	SentBandwidth  float64
	AckedBandwidth float64
}

type datagram struct {
	bytes []byte
	addr  *net.UDPAddr
}

// Conn talks to exactly one peer. A server accepts the first client that
// reaches it and goes back to accepting once that client times out.
type Conn struct {
	protocolID uint32
	timeout    time.Duration

	ln   *net.UDPConn
	inch chan datagram
	done chan struct{}
	wg   sync.WaitGroup

	mode         Mode
	state        State
	peer         *net.UDPAddr
	timeoutAccum time.Duration
	rel          *reliability

	log logger.Logger

	// OnConnect and OnDisconnect, if set, are called from Update or TryReceive.
	OnConnect    func(peer *net.UDPAddr)
	OnDisconnect func()
}

func New(protocolID uint32, timeout time.Duration, log logger.Logger) *Conn {
	if log == nil {
		log = logger.Nop()
	}

	return &Conn{
		protocolID: protocolID,
		timeout:    timeout,
		rel:        newReliability(),
		log:        log,
	}
}

// Start binds the local port and starts reading from it. Port 0 picks a free
// one.
func (c *Conn) Start(port int) error {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	if err := ln.SetReadBuffer(1024 * 1024); err != nil {
		c.log.WithStr("err", err.Error()).Debug("failed to set read buffer")
	}

	if err := ipv4.NewConn(ln).SetTOS(tosLowDelay); err != nil {
		c.log.WithStr("err", err.Error()).Debug("failed to set type of service")
	}

	c.ln = ln
	c.inch = make(chan datagram, inboxSize)
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.read()

	c.log.WithStr("addr", ln.LocalAddr().String()).Info("socket open")
	return nil
}

func (c *Conn) read() {
	defer c.wg.Done()

	for {
		buf := make([]byte, MaxDatagram)
		n, addr, err := c.ln.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.WithStr("err", err.Error()).Debug("read failed")
			continue
		}

		select {
		case c.inch <- datagram{bytes: buf[:n], addr: addr}:
		case <-c.done:
			return
		default:
			// inbox full, drop like the network would
		}
	}
}

// Close stops the reader and releases the socket.
func (c *Conn) Close() error {
	if c.ln == nil {
		return nil
	}

	close(c.done)
	err := c.ln.Close()
	c.wg.Wait()
	c.ln = nil
	c.clear()
	return err
}

func (c *Conn) clear() {
	c.state = StateDisconnected
	c.peer = nil
	c.timeoutAccum = 0
	c.rel.reset()
}

// Listen puts the connection in server mode.
func (c *Conn) Listen() {
	c.log.Info("server listening for connection")
	c.clear()
	c.mode = ModeServer
	c.state = StateListening
}

// Connect puts the connection in client mode and targets addr.
func (c *Conn) Connect(addr *net.UDPAddr) {
	c.log.WithStr("peer", addr.String()).Info("client connecting")
	c.clear()
	c.mode = ModeClient
	c.state = StateConnecting
	c.peer = addr
}

// Send writes one datagram to the peer.
func (c *Conn) Send(payload []byte) error {
	if c.ln == nil {
		return ErrNotStarted
	}

	if c.peer == nil {
		return ErrNoPeer
	}

	if len(payload) > MaxDatagram-HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	packet := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(packet[0:], c.protocolID)
	binary.BigEndian.PutUint32(packet[4:], c.rel.localSequence())
	binary.BigEndian.PutUint32(packet[8:], c.rel.remoteSequence())
	binary.BigEndian.PutUint32(packet[12:], c.rel.ackBits())
	copy(packet[HeaderSize:], payload)

	if _, err := c.ln.WriteToUDP(packet, c.peer); err != nil {
		return fmt.Errorf("failed to send to %s: %w", c.peer, err)
	}

	c.rel.packetSent(len(payload))
	return nil
}

// TryReceive copies the next payload from the peer into buf without
// blocking. Datagrams from strangers or with another protocol id are dropped.
func (c *Conn) TryReceive(buf []byte) (int, bool) {
	for {
		var d datagram
		select {
		case d = <-c.inch:
		default:
			return 0, false
		}

		if len(d.bytes) < HeaderSize || binary.BigEndian.Uint32(d.bytes) != c.protocolID {
			continue
		}

		if c.mode == ModeServer && !c.IsConnected() {
			c.log.WithStr("peer", d.addr.String()).Info("server accepts connection")
			c.state = StateConnected
			c.peer = d.addr
			if c.OnConnect != nil {
				c.OnConnect(d.addr)
			}
		}

		if c.peer == nil || !sameAddr(c.peer, d.addr) {
			continue
		}

		if c.mode == ModeClient && c.state == StateConnecting {
			c.log.WithStr("peer", d.addr.String()).Info("client completes connection")
			c.state = StateConnected
			if c.OnConnect != nil {
				c.OnConnect(d.addr)
			}
		}

		c.timeoutAccum = 0

		seq := binary.BigEndian.Uint32(d.bytes[4:])
		ack := binary.BigEndian.Uint32(d.bytes[8:])
		bits := binary.BigEndian.Uint32(d.bytes[12:])
		payload := d.bytes[HeaderSize:]

		c.rel.packetReceived(seq, len(payload))
		c.rel.processAck(ack, bits)

		return copy(buf, payload), true
	}
}

// Update advances the reliability clocks and the timeout.
func (c *Conn) Update(dt time.Duration) {
	c.rel.update(dt)

	c.timeoutAccum += dt
	if c.timeoutAccum <= c.timeout {
		return
	}

	switch c.state {
	case StateConnecting:
		c.log.WithAny("timeout", c.timeout).Warn("connect timed out")
		c.clear()
		c.state = StateConnectFail
	case StateConnected:
		c.log.WithAny("timeout", c.timeout).Warn("connection timed out")
		c.clear()
	default:
		return
	}

	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}
}

func (c *Conn) Mode() Mode { return c.mode }

func (c *Conn) State() State { return c.state }

func (c *Conn) IsConnected() bool { return c.state == StateConnected }

func (c *Conn) ConnectFailed() bool { return c.state == StateConnectFail }

func (c *Conn) IsListening() bool { return c.state == StateListening }

func (c *Conn) RoundTripTime() time.Duration { return c.rel.rtt }

// Peer returns the connected or targeted address, or nil.
func (c *Conn) Peer() *net.UDPAddr { return c.peer }

// LocalAddr returns the bound address, or nil before Start.
func (c *Conn) LocalAddr() *net.UDPAddr {
	if c.ln == nil {
		return nil
	}
	return c.ln.LocalAddr().(*net.UDPAddr)
}

func (c *Conn) Stats() Stats {
	return Stats{
		Sent:           c.rel.sent,
		Received:       c.rel.recv,
		Acked:          c.rel.acked,
		Lost:           c.rel.lost,
		RTT:            c.rel.rtt,
		SentBandwidth:  c.rel.sentBW,
		AckedBandwidth: c.rel.ackedBW,
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
