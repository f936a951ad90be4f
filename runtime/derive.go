// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// Derive returns the program-controlled address for the given seeds. It
// is a pure function: the same (program, seeds) always yield the same
// address, which is how one-record-per-identity-pair invariants are
// enforced without a registry.
func Derive(program ids.ID, seeds ...[]byte) ids.ID {
	preimage := make([]byte, 0, (len(seeds)+1)*32)
	for _, seed := range seeds {
		preimage = append(preimage, seed...)
	}
	preimage = append(preimage, program[:]...)
	return ids.ID(hash.ComputeHash256Array(preimage))
}
