// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"

	"github.com/quadfund/qfvm/utils/math"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already allocated")

	// Database prefixes
	prefixAccount = []byte("account")
	prefixToken   = []byte("token")
	prefixMint    = []byte("mint")
)

// Ledger is the account and token state backing instruction execution.
// All mutations are buffered in a versioned layer; Commit publishes them
// to the base database and Abort drops them.
type Ledger struct {
	db *versiondb.Database

	accounts database.Database
	tokens   database.Database
	mints    database.Database

	rent Rent
}

// NewLedger wraps db in a versioned layer with the default rent
// schedule.
func NewLedger(db database.Database) *Ledger {
	vdb := versiondb.New(db)
	return &Ledger{
		db:       vdb,
		accounts: prefixdb.New(prefixAccount, vdb),
		tokens:   prefixdb.New(prefixToken, vdb),
		mints:    prefixdb.New(prefixMint, vdb),
		rent:     DefaultRent,
	}
}

// Rent returns the ledger's rent schedule.
func (l *Ledger) Rent() Rent {
	return l.rent
}

// Commit publishes all buffered writes to the base database.
func (l *Ledger) Commit() error {
	return l.db.Commit()
}

// Abort drops all buffered writes.
func (l *Ledger) Abort() {
	l.db.Abort()
}

// Account returns the account at addr.
func (l *Ledger) Account(addr ids.ID) (*Account, error) {
	bytes, err := l.accounts.Get(addr[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, err
	}
	return unpackAccount(addr, bytes)
}

// PutAccount persists acct.
func (l *Ledger) PutAccount(acct *Account) error {
	return l.accounts.Put(acct.Address[:], packAccount(acct))
}

// CreateAccount allocates a fresh account at addr with a zeroed data
// payload of the given size, assigned to owner, funded to the
// rent-exempt minimum out of the funder account's balance. It mirrors
// the host's fund/allocate/assign sequence and fails if addr already
// has a payload.
func (l *Ledger) CreateAccount(addr ids.ID, size int, owner ids.ID, funder ids.ID) error {
	target, err := l.Account(addr)
	if errors.Is(err, ErrAccountNotFound) {
		target = &Account{Address: addr}
	} else if err != nil {
		return err
	}
	if len(target.Data) != 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}

	required := max(l.rent.MinimumBalance(size), 1)
	if target.Balance < required {
		topUp := required - target.Balance
		from, err := l.Account(funder)
		if err != nil {
			return err
		}
		from.Balance, err = math.Sub(from.Balance, topUp)
		if err != nil {
			return fmt.Errorf("funding account %s: %w", addr, err)
		}
		target.Balance, err = math.Add(target.Balance, topUp)
		if err != nil {
			return err
		}
		if err := l.PutAccount(from); err != nil {
			return err
		}
	}

	target.Owner = owner
	target.Data = make([]byte, size)
	return l.PutAccount(target)
}
