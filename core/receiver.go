package core

import (
	"fmt"
	"os"
	"time"

	"github.com/Dyastin-0/teleport/crc"
	"github.com/Dyastin-0/teleport/logger"
)

// DisconnectGrace is how long a receiver keeps saying goodbye before it
// starts listening for the next transfer.
const DisconnectGrace = time.Second

// Receiver reassembles one file at a time into memory, verifies it against
// the announced checksum and writes it to dir.
type Receiver struct {
	transfer

	dir string

	// received[i] is set once chunk i is in buf.
	received    []bool
	nReceived   uint32
	needsResend bool
	deadline    time.Duration
	saved       string
	computed    uint32

	Grace time.Duration

	// MaxFileSize caps the files this receiver accepts. Zero means any size
	// the wire can describe.
	MaxFileSize uint32

	// OnSaved, if set, is called after a verified file is written.
	OnSaved func(path string, meta FileMetadata)
	// OnVerifyFailed, if set, is called with the claimed metadata and the
	// checksum actually computed when a reassembled file does not match.
	OnVerifyFailed func(meta FileMetadata, computed uint32)
}

func NewReceiver(log logger.Logger) *Receiver {
	if log == nil {
		log = logger.Nop()
	}

	return &Receiver{
		transfer: transfer{state: StateCracked, log: log, root: log},
		Grace:    DisconnectGrace,
	}
}

// Initialize prepares dir and starts listening for metadata.
func (r *Receiver) Initialize(dir string) error {
	r.dir = dir
	r.reset()

	if err := os.MkdirAll(dir, 0755); err != nil {
		r.crack(fmt.Errorf("failed to create %s: %w", dir, err))
		return r.err
	}

	r.log.WithStr("dir", dir).Info("listening")
	r.setState(StateListening)
	return nil
}

func (r *Receiver) reset() {
	r.meta = FileMetadata{}
	r.chunkIndex = 0
	r.buf = nil
	r.received = nil
	r.nReceived = 0
	r.needsResend = false
	r.inbox = nil
	r.deadline = 0
	r.computed = 0
	r.err = nil
	r.log = r.root
}

func (r *Receiver) LoadOutboundPacket(packet []byte) bool {
	var e Envelope

	switch r.state {
	case StateReady:
		if r.needsResend {
			e = EncodeUint32(KindResendRequest, r.meta.CRC32)
		} else {
			e = EncodeUint32(KindOk, r.meta.CRC32)
		}
	case StateReceiving:
		e = EncodeUint32(KindAck, r.chunkIndex)
	case StateDisconnecting:
		e = EncodeUint32(KindDisconnect, r.meta.CRC32)
	default:
		return false
	}

	e.Put(packet)
	return true
}

func (r *Receiver) Update(dt time.Duration) {
	e, ok := r.take(dt)

	if r.state == StateDisconnecting && r.clock-r.deadline > r.Grace {
		r.log.Info("ready for the next transfer")
		r.reset()
		r.setState(StateListening)
	}

	if ok {
		r.transition(e)
	}
}

// transition applies one inbound message. Any (state, kind) pair not listed
// is ignored.
func (r *Receiver) transition(e Envelope) {
	switch r.state {
	case StateListening:
		switch e.Kind {
		case KindMetadata:
			r.accept(e)
		}

	case StateReady:
		switch e.Kind {
		case KindChunk:
			if r.writeChunk(e) {
				r.needsResend = false
				r.setState(StateReceiving)
			}
		case KindEndOfFile:
			if r.complete() {
				r.verify()
			}
		}

	case StateReceiving:
		switch e.Kind {
		case KindChunk:
			r.writeChunk(e)
		case KindEndOfFile:
			if r.complete() {
				r.verify()
				return
			}

			// The sender only ends after every chunk was acked, so a gap here
			// means both sides lost track of each other.
			r.log.WithAny("have", r.nReceived).
				WithAny("chunks", r.meta.TotalChunks).
				Warn("end of file before all chunks arrived, requesting resend")
			r.restart()
		}
	}
}

func (r *Receiver) accept(e Envelope) {
	var meta FileMetadata
	if err := meta.UnmarshalBinary(e.Payload[:]); err != nil {
		r.crack(err)
		return
	}

	r.meta = meta
	r.log = r.root.WithStr("file", meta.FileName)

	if !meta.Consistent() {
		r.crack(fmt.Errorf("%w: %d bytes in %d chunks of %d", ErrLayoutMismatch, meta.FileSize, meta.TotalChunks, ChunkDataSize))
		return
	}

	if _, err := safeName(meta.FileName); err != nil {
		r.crack(err)
		return
	}

	if r.MaxFileSize > 0 && meta.FileSize > r.MaxFileSize {
		r.log.WithAny("size", meta.FileSize).
			WithAny("max", r.MaxFileSize).
			Warn("file too large, ignored")
		r.meta = FileMetadata{}
		r.log = r.root
		return
	}

	r.buf = make([]byte, meta.FileSize)
	r.received = make([]bool, meta.TotalChunks)
	r.nReceived = 0
	r.chunkIndex = 0
	r.needsResend = false

	r.log.WithAny("size", meta.FileSize).
		WithAny("chunks", meta.TotalChunks).
		WithStr("crc", crcString(meta.CRC32)).
		Info("metadata received")

	r.setState(StateReady)
}

// writeChunk copies a chunk into the buffer unless it is already there. It
// reports false for chunks outside the file.
func (r *Receiver) writeChunk(e Envelope) bool {
	var c FileChunk
	if err := c.UnmarshalBinary(e.Payload[:]); err != nil {
		return false
	}

	if c.Index >= r.meta.TotalChunks {
		return false
	}

	// Ack whatever arrived last, duplicates included, so a sender waiting on
	// a chunk written out of order still gets its ack.
	r.chunkIndex = c.Index

	if r.received[c.Index] {
		return true
	}

	off := int(c.Index) * ChunkDataSize
	n := min(ChunkDataSize, len(r.buf)-off)
	copy(r.buf[off:off+n], c.Data[:n])
	r.received[c.Index] = true
	r.nReceived++

	return true
}

func (r *Receiver) complete() bool {
	return r.meta.FileSize == 0 || (len(r.received) > 0 && r.received[len(r.received)-1])
}

func (r *Receiver) verify() {
	r.computed = crc.Checksum(r.buf)

	if r.computed != r.meta.CRC32 {
		r.log.WithStr("claimed", crcString(r.meta.CRC32)).
			WithStr("computed", crcString(r.computed)).
			Warn("file verification failed, requesting resend")
		if r.OnVerifyFailed != nil {
			r.OnVerifyFailed(r.meta, r.computed)
		}
		r.restart()
		return
	}

	path, err := persist(r.dir, r.meta.FileName, r.buf)
	if err != nil {
		r.crack(err)
		return
	}

	r.saved = path
	r.log.WithStr("path", path).WithStr("crc", crcString(r.computed)).Info("file verified and saved")

	if r.OnSaved != nil {
		r.OnSaved(path, r.meta)
	}

	r.deadline = r.clock
	r.setState(StateDisconnecting)
}

// restart clears the buffer and table and asks the sender to begin again
// from chunk 0. The claimed checksum is kept.
func (r *Receiver) restart() {
	r.needsResend = true
	clear(r.received)
	r.nReceived = 0
	r.buf = make([]byte, r.meta.FileSize)
	r.chunkIndex = 0
	r.setState(StateReady)
}

// Progress returns chunks in the buffer and total chunks.
func (r *Receiver) Progress() (uint32, uint32) {
	return r.nReceived, r.meta.TotalChunks
}

func (r *Receiver) NeedsResend() bool { return r.needsResend }

// Computed returns the checksum of the last verification attempt.
func (r *Receiver) Computed() uint32 { return r.computed }

// Saved returns the path of the last file written.
func (r *Receiver) Saved() string { return r.saved }

// Received reports whether chunk i is in the buffer.
func (r *Receiver) Received(i uint32) bool {
	return int(i) < len(r.received) && r.received[i]
}

// Abandon drops a transfer in progress and listens again. A receiver that is
// listening or saying goodbye is left alone.
func (r *Receiver) Abandon() {
	switch r.state {
	case StateReady, StateReceiving:
		r.log.WithAny("have", r.nReceived).
			WithAny("chunks", r.meta.TotalChunks).
			Warn("peer lost, transfer abandoned")
		r.reset()
		r.setState(StateListening)
	}
}

// Close drops the reassembly buffer. The receiver produces no more packets
// until Initialize is called again.
func (r *Receiver) Close() {
	r.reset()
	if r.state != StateCracked {
		r.setState(StateClosed)
	}
}
