package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Dyastin-0/teleport/crc"
	"github.com/Dyastin-0/teleport/logger"
)

// Sender announces a file, then sends it one chunk at a time, moving to the
// next chunk only once the current one is acknowledged.
type Sender struct {
	transfer

	// acks[i] is set once the peer acknowledged chunk i.
	acks []bool

	// Loader reads the whole source file. Defaults to os.ReadFile.
	Loader func(path string) ([]byte, error)
}

func NewSender(log logger.Logger) *Sender {
	if log == nil {
		log = logger.Nop()
	}

	return &Sender{
		transfer: transfer{state: StateCracked, log: log, root: log},
		Loader:   os.ReadFile,
	}
}

// Initialize loads path into memory, computes its checksum and starts waving
// metadata at the peer. On failure the sender is left cracked.
func (s *Sender) Initialize(path string) error {
	s.reset()

	name := filepath.Base(path)
	s.meta.FileName = name
	if len(name) > MaxFileNameLength-1 {
		s.crack(fmt.Errorf("%s: %w", path, ErrNameTooLong))
		return s.err
	}

	stat, err := os.Stat(path)
	if err != nil {
		s.crack(fmt.Errorf("failed to read %s: %w", path, err))
		return s.err
	}

	if stat.Size() > MaxFileSize {
		s.crack(fmt.Errorf("%s (%d bytes): %w", path, stat.Size(), ErrFileTooLarge))
		return s.err
	}

	data, err := s.Loader(path)
	if err != nil {
		s.crack(fmt.Errorf("failed to read %s: %w", path, err))
		return s.err
	}

	meta, err := NewFileMetadata(name, len(data), crc.Checksum(data))
	if err != nil {
		s.crack(fmt.Errorf("%s: %w", path, err))
		return s.err
	}

	s.meta = *meta
	s.buf = data
	s.acks = make([]bool, meta.TotalChunks)
	s.log = s.log.WithStr("file", name)
	s.log.WithAny("size", meta.FileSize).
		WithAny("chunks", meta.TotalChunks).
		WithStr("crc", crcString(meta.CRC32)).
		Info("file loaded")

	s.setState(StateWaving)
	return nil
}

func (s *Sender) reset() {
	s.meta = FileMetadata{}
	s.chunkIndex = 0
	s.buf = nil
	s.acks = nil
	s.inbox = nil
	s.clock = 0
	s.err = nil
	s.log = s.root
}

// LoadOutboundPacket fills packet with the message due in the current state.
// It reports false when there is nothing to send.
func (s *Sender) LoadOutboundPacket(packet []byte) bool {
	var e Envelope

	switch s.state {
	case StateWaving:
		var err error
		e, err = s.meta.Envelope()
		if err != nil {
			return false
		}

	case StateSending:
		switch {
		case s.chunkIndex < s.meta.TotalChunks:
			e = NewFileChunk(s.buf, s.chunkIndex).Envelope()
		case s.meta.TotalChunks == 0 || s.acks[len(s.acks)-1]:
			e = EncodeUint32(KindEndOfFile, s.meta.CRC32)
		default:
			return false
		}

	default:
		return false
	}

	e.Put(packet)
	return true
}

func (s *Sender) Update(dt time.Duration) {
	e, ok := s.take(dt)
	if !ok {
		return
	}

	s.transition(e)
}

// transition applies one inbound message. Any (state, kind) pair not listed
// is ignored.
func (s *Sender) transition(e Envelope) {
	switch s.state {
	case StateWaving:
		switch e.Kind {
		case KindOk:
			clear(s.acks)
			s.chunkIndex = 0
			s.log.Info("receiver ready")
			s.setState(StateSending)
		}

	case StateSending:
		switch e.Kind {
		case KindAck:
			i := e.Uint32()
			if i == s.chunkIndex && i < s.meta.TotalChunks {
				s.acks[i] = true
				s.chunkIndex++
			}

		case KindResendRequest:
			s.log.WithAny("chunk", s.chunkIndex).Warn("resend requested, restarting from chunk 0")
			s.chunkIndex = 0
			clear(s.acks)

		case KindDisconnect:
			if allTrue(s.acks) {
				s.log.Info("transfer acknowledged")
				s.Close()
			}
		}
	}
}

// Progress returns acknowledged and total chunks.
func (s *Sender) Progress() (uint32, uint32) {
	return s.chunkIndex, s.meta.TotalChunks
}

// Acked reports whether chunk i was acknowledged.
func (s *Sender) Acked(i uint32) bool {
	return int(i) < len(s.acks) && s.acks[i]
}

// Close releases the file buffer and ack table. Metadata stays readable.
func (s *Sender) Close() {
	s.buf = nil
	s.acks = nil
	s.inbox = nil
	if s.state != StateCracked {
		s.setState(StateClosed)
	}
}
