package teleport

import (
	"context"
	"fmt"
	"time"

	"github.com/Dyastin-0/teleport/core"
	"github.com/Dyastin-0/teleport/flow"
	"github.com/Dyastin-0/teleport/logger"
	"github.com/Dyastin-0/teleport/transport"
	"github.com/google/uuid"
)

// Summary describes a finished send.
type Summary struct {
	ID      string
	File    core.FileMetadata
	Elapsed time.Duration
	Mbps    float64
}

// Driver runs one session over one transport, one tick at a time.
type Driver struct {
	cfg     Config
	id      string
	conn    Transport
	session core.Session
	// receiver is set when the session is a receiver.
	receiver *core.Receiver
	flow     *flow.Controller
	log      logger.Logger

	packet     []byte
	inbound    []byte
	sendAccum  time.Duration
	statsAccum time.Duration
	connected  bool
	elapsed    time.Duration
	progress   [2]uint32

	// OnProgress, if set, is called when the session's progress changes.
	OnProgress func(done, total uint32)
	// OnStats, if set, receives the transport counters every StatsInterval.
	OnStats func(transport.Stats)
}

func newDriver(cfg Config, conn Transport, session core.Session, log logger.Logger) *Driver {
	if log == nil {
		log = logger.Nop()
	}

	id := uuid.NewString()
	d := &Driver{
		cfg:     cfg,
		id:      id,
		conn:    conn,
		session: session,
		flow:    flow.New(),
		log:     log.WithStr("transfer", id),
		packet:  make([]byte, core.PacketSize),
		inbound: make([]byte, transport.MaxDatagram),
	}

	d.flow.OnModeChange = func(mode flow.Mode, penalty time.Duration) {
		d.log.WithStr("mode", mode.String()).WithAny("penalty", penalty).Info("flow control mode changed")
	}
	d.flow.OnPenaltyChange = func(penalty time.Duration) {
		d.log.WithAny("penalty", penalty).Debug("flow control penalty changed")
	}

	return d
}

// NewSendDriver drives an initialized sender. It finishes once the receiver
// confirms the file.
func NewSendDriver(cfg Config, conn Transport, s *core.Sender, log logger.Logger) *Driver {
	return newDriver(cfg, conn, s, log)
}

// NewReceiveDriver drives an initialized receiver. It never finishes on its
// own; each verified file is reported through the receiver's OnSaved.
func NewReceiveDriver(cfg Config, conn Transport, r *core.Receiver, log logger.Logger) *Driver {
	d := newDriver(cfg, conn, r, log)
	d.receiver = r
	return d
}

func (d *Driver) ID() string { return d.id }

func (d *Driver) Flow() *flow.Controller { return d.flow }

// Step advances everything by dt. It reports true once a send is complete.
func (d *Driver) Step(dt time.Duration) (bool, error) {
	d.elapsed += dt

	if d.conn.IsConnected() {
		d.flow.Update(dt, d.conn.RoundTripTime())
	}

	if err := d.edges(); err != nil {
		return false, err
	}

	d.sendAccum += dt
	interval := d.flow.SendInterval()
	for d.sendAccum > interval {
		if d.session.LoadOutboundPacket(d.packet) {
			if err := d.conn.Send(d.packet); err != nil {
				d.log.WithStr("err", err.Error()).Debug("send failed")
			}
		}
		d.sendAccum -= interval
	}

	for {
		n, ok := d.conn.TryReceive(d.inbound)
		if !ok {
			break
		}
		d.session.ProcessInboundPacket(d.inbound[:n])
	}

	d.conn.Update(dt)

	if d.conn.IsConnected() {
		d.statsAccum += dt
		for d.statsAccum >= d.cfg.StatsInterval {
			d.stats()
			d.statsAccum -= d.cfg.StatsInterval
		}
	}

	d.session.Update(dt)
	d.reportProgress()

	switch d.session.State() {
	case core.StateCracked:
		err := core.ErrCracked
		if cause := d.session.Err(); cause != nil {
			err = fmt.Errorf("%w: %w", core.ErrCracked, cause)
		}
		return false, d.crackErr(err)
	case core.StateClosed:
		return d.receiver == nil, nil
	}

	return false, nil
}

// edges handles the transport connecting and dropping.
func (d *Driver) edges() error {
	if d.conn.ConnectFailed() {
		return d.crackErr(ErrConnectFailed)
	}

	now := d.conn.IsConnected()
	defer func() { d.connected = now }()

	switch {
	case now && !d.connected:
		d.log.Info("peer connected")
	case !now && d.connected:
		d.log.Info("peer lost, flow control reset")
		d.flow.Reset()
		d.sendAccum = 0

		if d.receiver != nil {
			d.receiver.Abandon()
			return nil
		}

		if d.session.State() != core.StateClosed {
			return d.crackErr(ErrConnectionLost)
		}
	}

	return nil
}

func (d *Driver) stats() {
	s := d.conn.Stats()

	d.log.WithAny("rtt", s.RTT).
		WithAny("sent", s.Sent).
		WithAny("acked", s.Acked).
		WithAny("lost", s.Lost).
		WithAny("sent_kbps", s.SentBandwidth).
		WithAny("acked_kbps", s.AckedBandwidth).
		WithStr("mode", d.flow.Mode().String()).
		Debug("stats")

	if d.OnStats != nil {
		d.OnStats(s)
	}
}

func (d *Driver) reportProgress() {
	done, total := d.session.Progress()
	if [2]uint32{done, total} == d.progress {
		return
	}

	d.progress = [2]uint32{done, total}
	if d.OnProgress != nil {
		d.OnProgress(done, total)
	}
}

// crackErr wraps err with the claim of the file in flight.
func (d *Driver) crackErr(err error) error {
	m := d.session.Metadata()
	return fmt.Errorf("%s (%d bytes, crc 0x%08X): %w", m.FileName, m.FileSize, m.CRC32, err)
}

// Summary reports the file and effective rate of the session so far.
func (d *Driver) Summary() Summary {
	m := d.session.Metadata()

	var mbps float64
	if secs := d.elapsed.Seconds(); secs > 0 {
		mbps = float64(m.FileSize) * 8 / secs / 1e6
	}

	return Summary{
		ID:      d.id,
		File:    m,
		Elapsed: d.elapsed,
		Mbps:    mbps,
	}
}

// WaitConnected steps the driver until the transport reports a peer.
func (d *Driver) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickRate)
	defer ticker.Stop()

	for !d.conn.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Step(d.cfg.TickRate); err != nil {
				return err
			}
		}
	}

	return nil
}

// Run calls Step every cfg.TickRate until the send completes, a step fails or
// ctx is done. A receiver only stops with ctx, and then returns nil.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	ticker := time.NewTicker(d.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if d.receiver != nil {
				return d.Summary(), nil
			}
			return d.Summary(), ctx.Err()
		case <-ticker.C:
			done, err := d.Step(d.cfg.TickRate)
			if err != nil {
				return d.Summary(), err
			}
			if done {
				s := d.Summary()
				d.log.WithAny("elapsed", s.Elapsed).WithAny("mbps", s.Mbps).Info("transfer complete")
				return s, nil
			}
		}
	}
}
