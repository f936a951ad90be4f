// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime models the hosted execution environment the program
// runs in: owned data accounts, storage rent, deterministic address
// derivation, and the token-transfer primitive. All state lives in a
// versioned database so one instruction's writes commit atomically or
// not at all.
package runtime

import (
	"github.com/luxfi/ids"

	"github.com/quadfund/qfvm/utils/wrappers"
)

// AccountMeta names one account an instruction touches, in dispatcher
// position order, together with whether its key signed the transaction.
type AccountMeta struct {
	Address ids.ID
	Signer  bool
}

// Authority identifies who approves a token transfer. Signed is true
// when the authority's key signed the transaction or when the authority
// is a program-derived address proven by the calling program.
type Authority struct {
	Address ids.ID
	Signed  bool
}

// Account is one data account: a fixed-size byte payload assigned to an
// owning program, plus the native balance that pays for its storage.
type Account struct {
	Address ids.ID
	Owner   ids.ID
	Balance uint64
	Data    []byte
}

func packAccount(a *Account) []byte {
	p := wrappers.NewPacker(wrappers.IDLen + 2*wrappers.LongLen + len(a.Data))
	p.PackID(a.Owner)
	p.PackLong(a.Balance)
	p.PackLong(uint64(len(a.Data)))
	p.PackFixedBytes(a.Data)
	return p.Bytes
}

func unpackAccount(addr ids.ID, bytes []byte) (*Account, error) {
	p := wrappers.NewUnpacker(bytes)
	a := &Account{
		Address: addr,
		Owner:   p.UnpackID(),
		Balance: p.UnpackLong(),
	}
	a.Data = p.UnpackFixedBytes(int(p.UnpackLong()))
	return a, p.Err
}

// Rent prices account storage. An account must hold at least the
// minimum balance for its size to be exempt from eviction.
type Rent struct {
	PricePerByte uint64
	Overhead     uint64
}

// DefaultRent is the rent schedule used by the demo ledger and tests.
var DefaultRent = Rent{
	PricePerByte: 3480,
	Overhead:     128,
}

// MinimumBalance returns the exemption threshold for an account of the
// given data size.
func (r Rent) MinimumBalance(size int) uint64 {
	return (uint64(size) + r.Overhead) * r.PricePerByte
}

// IsExempt returns whether balance meets the exemption threshold for
// the given data size.
func (r Rent) IsExempt(balance uint64, size int) bool {
	return balance >= r.MinimumBalance(size)
}
