package core

import (
	"fmt"
	"time"

	"github.com/Dyastin-0/teleport/logger"
)

type State uint8

const (
	StateCracked State = iota

	// receiver
	StateListening
	StateReady
	StateReceiving
	StateDisconnecting

	// sender
	StateWaving
	StateSending
	StateClosed
)

var stateNames = [...]string{
	StateCracked:       "cracked",
	StateListening:     "listening",
	StateReady:         "ready",
	StateReceiving:     "receiving",
	StateDisconnecting: "disconnecting",
	StateWaving:        "waving",
	StateSending:       "sending",
	StateClosed:        "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is one side of a transfer, driven by a single loop:
// LoadOutboundPacket when the flow controller allows a send,
// ProcessInboundPacket for every packet received, Update once per tick.
type Session interface {
	LoadOutboundPacket(packet []byte) bool
	ProcessInboundPacket(packet []byte)
	Update(dt time.Duration)

	State() State
	Metadata() FileMetadata
	Progress() (done, total uint32)
	Err() error
	Close()
}

// transfer holds what both roles share.
type transfer struct {
	state      State
	meta       FileMetadata
	chunkIndex uint32
	buf        []byte

	// inbox is the latest inbound envelope; Update consumes it.
	inbox *Envelope
	// clock is the sum of all dt passed to Update.
	clock time.Duration

	err  error
	log  logger.Logger
	root logger.Logger
}

func (t *transfer) State() State { return t.state }

func (t *transfer) Metadata() FileMetadata { return t.meta }

func (t *transfer) ChunkIndex() uint32 { return t.chunkIndex }

// Err returns the failure that cracked the session, if any.
func (t *transfer) Err() error { return t.err }

func (t *transfer) ProcessInboundPacket(packet []byte) {
	e := Decode(packet)
	t.inbox = &e
}

// take advances the clock and returns the pending envelope, if any.
func (t *transfer) take(dt time.Duration) (Envelope, bool) {
	t.clock += dt

	if t.inbox == nil {
		return Envelope{}, false
	}

	e := *t.inbox
	t.inbox = nil
	return e, true
}

func (t *transfer) setState(s State) {
	if t.state == s {
		return
	}

	t.log.WithStr("from", t.state.String()).WithStr("to", s.String()).Debug("state change")
	t.state = s
}

func (t *transfer) crack(err error) {
	t.err = err
	t.log.WithStr("file", t.meta.FileName).
		WithAny("size", t.meta.FileSize).
		WithStr("crc", crcString(t.meta.CRC32)).
		WithStr("err", err.Error()).
		Error("session cracked")
	t.setState(StateCracked)
}

func allTrue(table []bool) bool {
	for _, v := range table {
		if !v {
			return false
		}
	}
	return true
}

func crcString(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}
