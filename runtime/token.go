// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/quadfund/qfvm/utils/math"
	"github.com/quadfund/qfvm/utils/wrappers"
)

var (
	ErrMintNotFound         = errors.New("mint not found")
	ErrMintExists           = errors.New("mint already exists")
	ErrTokenAccountNotFound = errors.New("token account not found")
	ErrTokenAccountExists   = errors.New("token account already exists")
	ErrMintMismatch         = errors.New("token account mint mismatch")
	ErrDecimalsMismatch     = errors.New("mint decimals mismatch")
	ErrAuthorityMismatch    = errors.New("transfer authority mismatch")
	ErrUnsignedAuthority    = errors.New("transfer authority did not sign")
	ErrInsufficientFunds    = errors.New("insufficient token balance")
)

// Mint is one token kind.
type Mint struct {
	Address  ids.ID
	Decimals uint8
}

// TokenAccount holds a balance of one mint under a single authority.
type TokenAccount struct {
	Address ids.ID
	Mint    ids.ID
	Owner   ids.ID
	Amount  uint64
}

func packTokenAccount(a *TokenAccount) []byte {
	p := wrappers.NewPacker(2*wrappers.IDLen + wrappers.LongLen)
	p.PackID(a.Mint)
	p.PackID(a.Owner)
	p.PackLong(a.Amount)
	return p.Bytes
}

func unpackTokenAccount(addr ids.ID, bytes []byte) (*TokenAccount, error) {
	p := wrappers.NewUnpacker(bytes)
	a := &TokenAccount{
		Address: addr,
		Mint:    p.UnpackID(),
		Owner:   p.UnpackID(),
		Amount:  p.UnpackLong(),
	}
	return a, p.Err
}

// CreateMint registers a new token kind.
func (l *Ledger) CreateMint(addr ids.ID, decimals uint8) error {
	if has, err := l.mints.Has(addr[:]); err != nil {
		return err
	} else if has {
		return fmt.Errorf("%w: %s", ErrMintExists, addr)
	}
	return l.mints.Put(addr[:], []byte{decimals})
}

// Mint returns the mint at addr.
func (l *Ledger) Mint(addr ids.ID) (*Mint, error) {
	bytes, err := l.mints.Get(addr[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
		}
		return nil, err
	}
	if len(bytes) != 1 {
		return nil, fmt.Errorf("%w: malformed mint record", ErrMintNotFound)
	}
	return &Mint{Address: addr, Decimals: bytes[0]}, nil
}

// CreateTokenAccount opens an empty balance of mint under owner.
func (l *Ledger) CreateTokenAccount(addr, mint, owner ids.ID) error {
	if _, err := l.Mint(mint); err != nil {
		return err
	}
	if has, err := l.tokens.Has(addr[:]); err != nil {
		return err
	} else if has {
		return fmt.Errorf("%w: %s", ErrTokenAccountExists, addr)
	}
	return l.putTokenAccount(&TokenAccount{Address: addr, Mint: mint, Owner: owner})
}

// TokenAccount returns the token account at addr.
func (l *Ledger) TokenAccount(addr ids.ID) (*TokenAccount, error) {
	bytes, err := l.tokens.Get(addr[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTokenAccountNotFound, addr)
		}
		return nil, err
	}
	return unpackTokenAccount(addr, bytes)
}

// MintTo credits freshly issued tokens to a token account.
func (l *Ledger) MintTo(addr ids.ID, amount uint64) error {
	acct, err := l.TokenAccount(addr)
	if err != nil {
		return err
	}
	acct.Amount, err = math.Add(acct.Amount, amount)
	if err != nil {
		return err
	}
	return l.putTokenAccount(acct)
}

// TransferChecked moves amount from one token account to another,
// additionally validating that both accounts hold the named mint and
// that the caller-declared decimals match the mint's configuration.
func (l *Ledger) TransferChecked(from, mint, to ids.ID, auth Authority, amount uint64, decimals uint8) error {
	m, err := l.Mint(mint)
	if err != nil {
		return err
	}
	if m.Decimals != decimals {
		return fmt.Errorf("%w: declared %d, configured %d", ErrDecimalsMismatch, decimals, m.Decimals)
	}
	src, dst, err := l.transferPair(from, to, auth)
	if err != nil {
		return err
	}
	if src.Mint != mint || dst.Mint != mint {
		return ErrMintMismatch
	}
	return l.move(src, dst, amount)
}

// Transfer moves amount between two token accounts of the same mint.
func (l *Ledger) Transfer(from, to ids.ID, auth Authority, amount uint64) error {
	src, dst, err := l.transferPair(from, to, auth)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	return l.move(src, dst, amount)
}

func (l *Ledger) transferPair(from, to ids.ID, auth Authority) (*TokenAccount, *TokenAccount, error) {
	src, err := l.TokenAccount(from)
	if err != nil {
		return nil, nil, err
	}
	dst, err := l.TokenAccount(to)
	if err != nil {
		return nil, nil, err
	}
	if src.Owner != auth.Address {
		return nil, nil, ErrAuthorityMismatch
	}
	if !auth.Signed {
		return nil, nil, ErrUnsignedAuthority
	}
	return src, dst, nil
}

func (l *Ledger) move(src, dst *TokenAccount, amount uint64) error {
	var err error
	src.Amount, err = math.Sub(src.Amount, amount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, src.Address)
	}
	dst.Amount, err = math.Add(dst.Amount, amount)
	if err != nil {
		return err
	}
	if err := l.putTokenAccount(src); err != nil {
		return err
	}
	return l.putTokenAccount(dst)
}

func (l *Ledger) putTokenAccount(acct *TokenAccount) error {
	return l.tokens.Put(acct.Address[:], packTokenAccount(acct))
}
