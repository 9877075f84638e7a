package core

import (
	"encoding/binary"
	"fmt"
)

const (
	// PacketSize is fixed at build time; both peers must agree on it.
	PacketSize = 256

	KindSize          = 4
	PayloadSize       = PacketSize - KindSize
	MaxFileNameLength = 128
	ChunkIndexSize    = 4
	ChunkDataSize     = PacketSize - KindSize - ChunkIndexSize
	MetadataSize      = MaxFileNameLength + 3*4

	VERSION = "1.0"
)

type MessageKind uint32

const (
	KindMetadata MessageKind = iota + 1
	KindChunk
	KindEndOfFile
	KindOk
	KindAck
	KindDisconnect
	KindResendRequest
)

var kindNames = map[MessageKind]string{
	KindMetadata:      "metadata",
	KindChunk:         "chunk",
	KindEndOfFile:     "eof",
	KindOk:            "ok",
	KindAck:           "ack",
	KindDisconnect:    "disconnect",
	KindResendRequest: "resend",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Envelope is the only record placed on the wire: a kind tag followed by a
// zero padded payload, PacketSize bytes in total.
type Envelope struct {
	Kind    MessageKind
	Payload [PayloadSize]byte
}

// Encode builds an envelope around payload. Bytes past len(payload) are zero.
func Encode(kind MessageKind, payload []byte) (Envelope, error) {
	var e Envelope
	if len(payload) > PayloadSize {
		return e, ErrPayloadTooLarge
	}

	e.Kind = kind
	copy(e.Payload[:], payload)
	return e, nil
}

// EncodeUint32 builds an envelope whose payload is a single integer, as used
// by acks and the status messages.
func EncodeUint32(kind MessageKind, v uint32) Envelope {
	e := Envelope{Kind: kind}
	binary.LittleEndian.PutUint32(e.Payload[:], v)
	return e
}

// Decode reinterprets packet as an envelope. Short packets are zero extended,
// extra bytes are dropped. No validation happens here.
func Decode(packet []byte) Envelope {
	var e Envelope
	var head [KindSize]byte
	copy(head[:], packet)
	e.Kind = MessageKind(binary.LittleEndian.Uint32(head[:]))
	if len(packet) > KindSize {
		copy(e.Payload[:], packet[KindSize:])
	}
	return e
}

// Put writes the envelope into the first PacketSize bytes of packet.
// It panics if packet is shorter than PacketSize.
func (e Envelope) Put(packet []byte) {
	packet = packet[:PacketSize]
	binary.LittleEndian.PutUint32(packet, uint32(e.Kind))
	copy(packet[KindSize:], e.Payload[:])
}

func (e Envelope) Bytes() []byte {
	packet := make([]byte, PacketSize)
	e.Put(packet)
	return packet
}

// Uint32 reads the leading integer of the payload.
func (e Envelope) Uint32() uint32 {
	return binary.LittleEndian.Uint32(e.Payload[:4])
}
