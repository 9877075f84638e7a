package core

import "errors"

var (
	ErrPayloadTooLarge     = errors.New("payload exceeds envelope size")
	ErrInvalidMetadataSize = errors.New("file metadata data too small")
	ErrInvalidChunkSize    = errors.New("file chunk data too small")
	ErrNameTooLong         = errors.New("file name exceeds maximum length")
	ErrFileTooLarge        = errors.New("file exceeds 4 GiB")
	ErrInvalidFileName     = errors.New("invalid file name")
	ErrLayoutMismatch      = errors.New("chunk count does not match file size, peer packet size differs")
	ErrCracked             = errors.New("session cracked")
)
