package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// FileMetadata announces the file before any chunk is sent.
type FileMetadata struct {
	FileName    string
	FileSize    uint32
	TotalChunks uint32
	CRC32       uint32
}

// wireMetadata is the packed layout: NUL padded name then three integers.
type wireMetadata struct {
	Name        [MaxFileNameLength]byte
	FileSize    uint32
	TotalChunks uint32
	CRC32       uint32
}

// TotalChunks returns ceil(size / ChunkDataSize).
func TotalChunks(size uint32) uint32 {
	return uint32((uint64(size) + ChunkDataSize - 1) / ChunkDataSize)
}

// MaxFileSize is the largest file the u32 size field can describe.
const MaxFileSize = math.MaxUint32

func NewFileMetadata(name string, size int, checksum uint32) (*FileMetadata, error) {
	if len(name) > MaxFileNameLength-1 {
		return nil, ErrNameTooLong
	}

	if size < 0 || uint64(size) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	return &FileMetadata{
		FileName:    name,
		FileSize:    uint32(size),
		TotalChunks: TotalChunks(uint32(size)),
		CRC32:       checksum,
	}, nil
}

func (m *FileMetadata) MarshalBinary() ([]byte, error) {
	if len(m.FileName) > MaxFileNameLength-1 {
		return nil, ErrNameTooLong
	}

	w := wireMetadata{
		FileSize:    m.FileSize,
		TotalChunks: m.TotalChunks,
		CRC32:       m.CRC32,
	}
	copy(w.Name[:], m.FileName)

	buf := bytes.NewBuffer(make([]byte, 0, MetadataSize))
	if err := binary.Write(buf, binary.LittleEndian, &w); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	return buf.Bytes(), nil
}

func (m *FileMetadata) UnmarshalBinary(data []byte) error {
	if len(data) < MetadataSize {
		return ErrInvalidMetadataSize
	}

	var w wireMetadata
	if err := binary.Read(bytes.NewReader(data[:MetadataSize]), binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	name := w.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	m.FileName = string(name)
	m.FileSize = w.FileSize
	m.TotalChunks = w.TotalChunks
	m.CRC32 = w.CRC32

	return nil
}

// Consistent reports whether TotalChunks agrees with FileSize under this
// build's chunk size. A peer built with another PacketSize fails this check.
func (m *FileMetadata) Consistent() bool {
	return m.TotalChunks == TotalChunks(m.FileSize)
}

func (m *FileMetadata) Envelope() (Envelope, error) {
	payload, err := m.MarshalBinary()
	if err != nil {
		return Envelope{}, err
	}
	return Encode(KindMetadata, payload)
}
