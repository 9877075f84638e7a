package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutConstants(t *testing.T) {
	assert.Equal(t, 252, PayloadSize)
	assert.Equal(t, 248, ChunkDataSize)
	assert.Equal(t, 140, MetadataSize)
	assert.LessOrEqual(t, MetadataSize, PayloadSize)
	assert.Equal(t, PayloadSize, ChunkIndexSize+ChunkDataSize)
}

func TestKindWireTags(t *testing.T) {
	tests := []struct {
		kind MessageKind
		tag  uint32
	}{
		{KindMetadata, 1},
		{KindChunk, 2},
		{KindEndOfFile, 3},
		{KindOk, 4},
		{KindAck, 5},
		{KindDisconnect, 6},
		{KindResendRequest, 7},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			e := EncodeUint32(tt.kind, 0)
			packet := e.Bytes()
			assert.Equal(t, []byte{byte(tt.tag), 0, 0, 0}, packet[:KindSize])
		})
	}

	assert.Equal(t, "kind(99)", MessageKind(99).String())
}

func TestEncodeZeroFills(t *testing.T) {
	packet := bytes.Repeat([]byte{0xFF}, PacketSize)

	e, err := Encode(KindAck, []byte{1, 2, 3})
	require.NoError(t, err)
	e.Put(packet)

	assert.Equal(t, []byte{5, 0, 0, 0, 1, 2, 3}, packet[:7])
	assert.Equal(t, make([]byte, PacketSize-7), packet[7:])
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := Encode(KindOk, []byte("same"))
	require.NoError(t, err)
	b, err := Encode(KindOk, []byte("same"))
	require.NoError(t, err)

	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(KindChunk, make([]byte, PayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encode(KindChunk, make([]byte, PayloadSize))
	assert.NoError(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		kind   MessageKind
		first  uint32
	}{
		{
			name:   "full packet",
			packet: EncodeUint32(KindAck, 42).Bytes(),
			kind:   KindAck,
			first:  42,
		},
		{
			name:   "short packet is zero extended",
			packet: []byte{5, 0, 0, 0, 7},
			kind:   KindAck,
			first:  7,
		},
		{
			name:   "empty packet",
			packet: nil,
			kind:   0,
			first:  0,
		},
		{
			name:   "long packet is truncated",
			packet: append(EncodeUint32(KindChunk, 3).Bytes(), 0xEE, 0xEE),
			kind:   KindChunk,
			first:  3,
		},
		{
			name:   "unknown kind passes through",
			packet: []byte{0x63, 0, 0, 0},
			kind:   MessageKind(99),
			first:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Decode(tt.packet)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.first, e.Uint32())
		})
	}
}

func TestPutPanicsOnShortBuffer(t *testing.T) {
	e := EncodeUint32(KindOk, 0)
	assert.Panics(t, func() { e.Put(make([]byte, PacketSize-1)) })
}

func TestMetadataEncoding(t *testing.T) {
	m, err := NewFileMetadata("report.pdf", 1000, 0xDEADBEEF)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), m.TotalChunks)

	e, err := m.Envelope()
	require.NoError(t, err)

	packet := e.Bytes()
	assert.Len(t, packet, PacketSize)

	decoded := Decode(packet)
	require.Equal(t, KindMetadata, decoded.Kind)

	var got FileMetadata
	require.NoError(t, got.UnmarshalBinary(decoded.Payload[:]))
	assert.Equal(t, *m, got)

	// name field is NUL padded to 128 bytes, then size, chunks, crc
	payload := packet[KindSize:]
	assert.Equal(t, []byte("report.pdf"), payload[:10])
	assert.Equal(t, make([]byte, MaxFileNameLength-10), payload[10:MaxFileNameLength])
	assert.Equal(t, []byte{0xE8, 0x03, 0, 0}, payload[128:132])
	assert.Equal(t, []byte{5, 0, 0, 0}, payload[132:136])
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, payload[136:140])
}

func TestMetadataNameLength(t *testing.T) {
	_, err := NewFileMetadata(strings.Repeat("a", MaxFileNameLength-1), 1, 0)
	assert.NoError(t, err)

	_, err = NewFileMetadata(strings.Repeat("a", MaxFileNameLength), 1, 0)
	assert.ErrorIs(t, err, ErrNameTooLong)

	m := &FileMetadata{FileName: strings.Repeat("b", 200)}
	_, err = m.MarshalBinary()
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestMetadataUnmarshalTooShort(t *testing.T) {
	var m FileMetadata
	assert.ErrorIs(t, m.UnmarshalBinary(make([]byte, MetadataSize-1)), ErrInvalidMetadataSize)
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size uint32
		want uint32
	}{
		{0, 0},
		{1, 1},
		{ChunkDataSize - 1, 1},
		{ChunkDataSize, 1},
		{ChunkDataSize + 1, 2},
		{10 * ChunkDataSize, 10},
		{0xFFFFFFFF, 17318417},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size), "size %d", tt.size)
	}
}

func TestMetadataConsistent(t *testing.T) {
	m := FileMetadata{FileSize: 500, TotalChunks: 3}
	assert.True(t, m.Consistent())

	// what a peer built with 512 byte packets would announce
	m.TotalChunks = 1
	assert.False(t, m.Consistent())
}

func TestChunkEncoding(t *testing.T) {
	file := bytes.Repeat([]byte("0123456789"), 60) // 600 bytes, 3 chunks

	last := NewFileChunk(file, 2)
	assert.Equal(t, uint32(2), last.Index)
	assert.Equal(t, file[2*ChunkDataSize:], last.Data[:600-2*ChunkDataSize])
	assert.Equal(t, make([]byte, 3*ChunkDataSize-600), last.Data[600-2*ChunkDataSize:])

	packet := last.Envelope().Bytes()
	e := Decode(packet)
	require.Equal(t, KindChunk, e.Kind)

	var got FileChunk
	require.NoError(t, got.UnmarshalBinary(e.Payload[:]))
	assert.Equal(t, *last, got)

	raw, err := last.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, packet[KindSize:], raw)
}

func TestChunkPastEndIsEmpty(t *testing.T) {
	c := NewFileChunk([]byte("tiny"), 5)
	assert.Equal(t, [ChunkDataSize]byte{}, c.Data)
}

func TestChunkUnmarshalTooShort(t *testing.T) {
	var c FileChunk
	assert.ErrorIs(t, c.UnmarshalBinary([]byte{1, 2}), ErrInvalidChunkSize)
}
