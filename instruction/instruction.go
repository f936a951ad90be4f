// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package instruction implements the wire format of the nine program
// operations: one discriminant byte followed by little-endian
// fixed-width fields. The byte layout is a compatibility surface and
// must stay bit-exact.
package instruction

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/quadfund/qfvm/utils/wrappers"
)

// Operation discriminants.
const (
	TagStartRound byte = iota
	TagDonate
	TagRegisterProject
	TagInitVoter
	TagVote
	TagWithdraw
	TagEndRound
	TagWithdrawFee
	TagBanProject
)

var ErrInvalidInstructionData = errors.New("invalid instruction data")

// Instruction is one decoded program operation.
type Instruction interface {
	// Tag returns the operation discriminant.
	Tag() byte
	// Pack returns the wire encoding, discriminant byte included.
	Pack() []byte
}

type StartRound struct {
	Ratio uint8
}

type Donate struct {
	Amount   uint64
	Decimals uint8
}

type RegisterProject struct{}

type InitVoter struct{}

type Vote struct {
	Amount   uint64
	Decimals uint8
}

type Withdraw struct{}

type EndRound struct{}

type WithdrawFee struct{}

type BanProject struct {
	BanAmount *uint256.Int
}

func (StartRound) Tag() byte      { return TagStartRound }
func (Donate) Tag() byte          { return TagDonate }
func (RegisterProject) Tag() byte { return TagRegisterProject }
func (InitVoter) Tag() byte       { return TagInitVoter }
func (Vote) Tag() byte            { return TagVote }
func (Withdraw) Tag() byte        { return TagWithdraw }
func (EndRound) Tag() byte        { return TagEndRound }
func (WithdrawFee) Tag() byte     { return TagWithdrawFee }
func (BanProject) Tag() byte      { return TagBanProject }

func (ix StartRound) Pack() []byte {
	return []byte{TagStartRound, ix.Ratio}
}

func (ix Donate) Pack() []byte {
	return packAmountDecimals(TagDonate, ix.Amount, ix.Decimals)
}

func (RegisterProject) Pack() []byte { return []byte{TagRegisterProject} }

func (InitVoter) Pack() []byte { return []byte{TagInitVoter} }

func (ix Vote) Pack() []byte {
	return packAmountDecimals(TagVote, ix.Amount, ix.Decimals)
}

func (Withdraw) Pack() []byte { return []byte{TagWithdraw} }

func (EndRound) Pack() []byte { return []byte{TagEndRound} }

func (WithdrawFee) Pack() []byte { return []byte{TagWithdrawFee} }

func (ix BanProject) Pack() []byte {
	p := wrappers.NewPacker(1 + wrappers.UintLen)
	p.PackByte(TagBanProject)
	amount := ix.BanAmount
	if amount == nil {
		amount = new(uint256.Int)
	}
	p.PackUint256(amount)
	return p.Bytes
}

func packAmountDecimals(tag byte, amount uint64, decimals uint8) []byte {
	buf := make([]byte, 10)
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:9], amount)
	buf[9] = decimals
	return buf
}

// Unpack decodes one instruction from input. Trailing bytes beyond the
// operation's fixed width are ignored, matching the wire contract of a
// tag plus fixed-width fields.
func Unpack(input []byte) (Instruction, error) {
	if len(input) == 0 {
		return nil, ErrInvalidInstructionData
	}
	tag, rest := input[0], input[1:]
	switch tag {
	case TagStartRound:
		if len(rest) < 1 {
			return nil, ErrInvalidInstructionData
		}
		return StartRound{Ratio: rest[0]}, nil
	case TagDonate:
		amount, decimals, err := unpackAmountDecimals(rest)
		if err != nil {
			return nil, err
		}
		return Donate{Amount: amount, Decimals: decimals}, nil
	case TagRegisterProject:
		return RegisterProject{}, nil
	case TagInitVoter:
		return InitVoter{}, nil
	case TagVote:
		amount, decimals, err := unpackAmountDecimals(rest)
		if err != nil {
			return nil, err
		}
		return Vote{Amount: amount, Decimals: decimals}, nil
	case TagWithdraw:
		return Withdraw{}, nil
	case TagEndRound:
		return EndRound{}, nil
	case TagWithdrawFee:
		return WithdrawFee{}, nil
	case TagBanProject:
		if len(rest) < wrappers.UintLen {
			return nil, ErrInvalidInstructionData
		}
		p := wrappers.NewUnpacker(rest)
		amount := p.UnpackUint256()
		if p.Err != nil {
			return nil, ErrInvalidInstructionData
		}
		return BanProject{BanAmount: amount}, nil
	default:
		return nil, ErrInvalidInstructionData
	}
}

func unpackAmountDecimals(rest []byte) (uint64, uint8, error) {
	if len(rest) < 9 {
		return 0, 0, ErrInvalidInstructionData
	}
	return binary.LittleEndian.Uint64(rest[:8]), rest[8], nil
}
