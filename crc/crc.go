// Package crc implements the reflected CRC32 (polynomial 0xEDB88320) used to
// verify whole files after reassembly.
package crc

import (
	"hash"
	"sync"
)

const (
	Polynomial uint32 = 0xEDB88320
	Size              = 4
)

// table is built on first use and never written again.
var table = sync.OnceValue(func() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i)
		for range 8 {
			if c&1 == 1 {
				c = Polynomial ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return &t
})

// Checksum returns the CRC32 of buf.
func Checksum(buf []byte) uint32 {
	return Update(0, buf)
}

// Update folds buf into a checksum previously returned by Checksum or Update.
// Feeding a file in pieces yields the same value as one call over the whole file.
func Update(prev uint32, buf []byte) uint32 {
	t := table()
	c := ^prev
	for _, b := range buf {
		c = t[byte(c)^b] ^ (c >> 8)
	}
	return ^c
}

type digest struct {
	crc uint32
}

// New returns a hash.Hash32 computing the same checksum, for use with io.Copy.
func New() hash.Hash32 {
	return &digest{}
}

func (d *digest) Write(p []byte) (int, error) {
	d.crc = Update(d.crc, p)
	return len(p), nil
}

func (d *digest) Sum32() uint32 { return d.crc }

func (d *digest) Sum(in []byte) []byte {
	s := d.crc
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (d *digest) Reset() { d.crc = 0 }

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return 1 }
