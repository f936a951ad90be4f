// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrappers provides the little-endian byte packer used by the
// record and instruction codecs.
package wrappers

const (
	// ByteLen is the number of bytes per byte
	ByteLen = 1
	// BoolLen is the number of bytes per bool
	BoolLen = 1
	// LongLen is the number of bytes per long
	LongLen = 8
	// IDLen is the number of bytes per account identity
	IDLen = 32
	// UintLen is the number of bytes per 256-bit integer
	UintLen = 32
)

// Errs collects errors during a series of operations.
type Errs struct {
	Err error
}

// Errored returns true if an error has been recorded.
func (errs *Errs) Errored() bool {
	return errs.Err != nil
}

// Add records the first non-nil error.
func (errs *Errs) Add(errors ...error) {
	if errs.Err == nil {
		for _, err := range errors {
			if err != nil {
				errs.Err = err
				break
			}
		}
	}
}
