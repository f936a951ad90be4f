// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package processor

import (
	"errors"
)

var (
	// Structural errors
	ErrNotEnoughAccounts     = errors.New("not enough accounts for instruction")
	ErrIncorrectProgramOwner = errors.New("account is not owned by this program")
	ErrNotRentExempt         = errors.New("account is not rent exempt")
	ErrAlreadyInitialized    = errors.New("record is already initialized")
	ErrNotInitialized        = errors.New("record is not initialized")

	// Identity-mismatch errors
	ErrOwnerMismatch = errors.New("owner mismatch")
	ErrVaultMismatch = errors.New("vault mismatch")
	ErrRoundMismatch = errors.New("round mismatch")
	ErrVoterMismatch = errors.New("voter mismatch")

	// State errors
	ErrRoundStatus      = errors.New("round status does not permit this instruction")
	ErrAlreadyWithdrawn = errors.New("project has already withdrawn")

	// Authorization errors
	ErrMissingSignature = errors.New("missing required signature")

	// Arithmetic errors
	ErrAmountTooLarge = errors.New("computed amount exceeds 64 bits")
)
