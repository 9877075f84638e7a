package core

import "encoding/binary"

// FileChunk carries ChunkDataSize bytes of the file. The last chunk is zero
// padded on the wire; receivers trim it using the announced file size.
type FileChunk struct {
	Index uint32
	Data  [ChunkDataSize]byte
}

// NewFileChunk slices chunk index out of file.
func NewFileChunk(file []byte, index uint32) *FileChunk {
	c := &FileChunk{Index: index}
	off := int(index) * ChunkDataSize
	if off < len(file) {
		copy(c.Data[:], file[off:])
	}
	return c
}

func (c *FileChunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ChunkIndexSize+ChunkDataSize)
	binary.LittleEndian.PutUint32(buf, c.Index)
	copy(buf[ChunkIndexSize:], c.Data[:])
	return buf, nil
}

func (c *FileChunk) UnmarshalBinary(data []byte) error {
	if len(data) < ChunkIndexSize {
		return ErrInvalidChunkSize
	}

	c.Index = binary.LittleEndian.Uint32(data)
	clear(c.Data[:])
	copy(c.Data[:], data[ChunkIndexSize:])
	return nil
}

func (c *FileChunk) Envelope() Envelope {
	e := Envelope{Kind: KindChunk}
	binary.LittleEndian.PutUint32(e.Payload[:], c.Index)
	copy(e.Payload[ChunkIndexSize:], c.Data[:])
	return e
}
