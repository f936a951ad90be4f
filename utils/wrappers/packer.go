// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package wrappers

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
)

var (
	ErrInsufficientLength = errors.New("packer has insufficient length for input")
	errBadBool            = errors.New("unexpected value when unpacking bool")
)

// Packer packs and unpacks a fixed-size byte array from/to standard
// values. All multi-byte values are little-endian; 256-bit integers are
// stored as 32 little-endian bytes.
type Packer struct {
	Errs

	// The byte array being read or written
	Bytes []byte
	// The offset that is being written to in the byte array
	Offset int
}

// NewPacker returns a packer writing into a zeroed buffer of size bytes.
func NewPacker(size int) *Packer {
	return &Packer{Bytes: make([]byte, size)}
}

// NewUnpacker returns a packer reading from bytes.
func NewUnpacker(bytes []byte) *Packer {
	return &Packer{Bytes: bytes}
}

// PackByte writes a byte to the byte array
func (p *Packer) PackByte(val byte) {
	p.checkSpace(ByteLen)
	if p.Errored() {
		return
	}

	p.Bytes[p.Offset] = val
	p.Offset += ByteLen
}

// UnpackByte unpacks a byte from the byte array
func (p *Packer) UnpackByte() byte {
	p.checkSpace(ByteLen)
	if p.Errored() {
		return 0
	}

	val := p.Bytes[p.Offset]
	p.Offset += ByteLen
	return val
}

// PackBool writes a bool to the byte array
func (p *Packer) PackBool(b bool) {
	if b {
		p.PackByte(1)
	} else {
		p.PackByte(0)
	}
}

// UnpackBool unpacks a bool from the byte array. Any byte other than 0
// or 1 is an error.
func (p *Packer) UnpackBool() bool {
	switch p.UnpackByte() {
	case 0:
		return false
	case 1:
		return true
	default:
		p.Add(errBadBool)
		return false
	}
}

// PackLong writes a uint64 to the byte array
func (p *Packer) PackLong(val uint64) {
	p.checkSpace(LongLen)
	if p.Errored() {
		return
	}

	binary.LittleEndian.PutUint64(p.Bytes[p.Offset:], val)
	p.Offset += LongLen
}

// UnpackLong unpacks a uint64 from the byte array
func (p *Packer) UnpackLong() uint64 {
	p.checkSpace(LongLen)
	if p.Errored() {
		return 0
	}

	val := binary.LittleEndian.Uint64(p.Bytes[p.Offset:])
	p.Offset += LongLen
	return val
}

// PackID writes an account identity to the byte array
func (p *Packer) PackID(id ids.ID) {
	p.checkSpace(IDLen)
	if p.Errored() {
		return
	}

	copy(p.Bytes[p.Offset:], id[:])
	p.Offset += IDLen
}

// UnpackID unpacks an account identity from the byte array
func (p *Packer) UnpackID() ids.ID {
	p.checkSpace(IDLen)
	if p.Errored() {
		return ids.Empty
	}

	var id ids.ID
	copy(id[:], p.Bytes[p.Offset:p.Offset+IDLen])
	p.Offset += IDLen
	return id
}

// PackUint256 writes a 256-bit integer to the byte array as 32
// little-endian bytes. The uint256 limbs are already ordered least
// significant first.
func (p *Packer) PackUint256(val *uint256.Int) {
	p.checkSpace(UintLen)
	if p.Errored() {
		return
	}

	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(p.Bytes[p.Offset+i*8:], val[i])
	}
	p.Offset += UintLen
}

// UnpackUint256 unpacks a 256-bit integer from the byte array
func (p *Packer) UnpackUint256() *uint256.Int {
	p.checkSpace(UintLen)
	if p.Errored() {
		return new(uint256.Int)
	}

	val := new(uint256.Int)
	for i := 0; i < 4; i++ {
		val[i] = binary.LittleEndian.Uint64(p.Bytes[p.Offset+i*8:])
	}
	p.Offset += UintLen
	return val
}

// PackFixedBytes writes bytes to the byte array without a length prefix
func (p *Packer) PackFixedBytes(bytes []byte) {
	p.checkSpace(len(bytes))
	if p.Errored() {
		return
	}

	copy(p.Bytes[p.Offset:], bytes)
	p.Offset += len(bytes)
}

// UnpackFixedBytes unpacks size bytes from the byte array
func (p *Packer) UnpackFixedBytes(size int) []byte {
	p.checkSpace(size)
	if p.Errored() {
		return nil
	}

	bytes := make([]byte, size)
	copy(bytes, p.Bytes[p.Offset:])
	p.Offset += size
	return bytes
}

func (p *Packer) checkSpace(bytes int) {
	if p.Offset+bytes > len(p.Bytes) {
		p.Add(ErrInsufficientLength)
	}
}
