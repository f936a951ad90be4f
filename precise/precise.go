// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precise implements checked fixed-point arithmetic on 256-bit
// unsigned integers. A scaled value v represents the rational v / Scale.
//
// Every operation either returns an exact (floor-rounded) result or an
// error; nothing wraps silently. Scaled values flowing through the vote
// and withdrawal arithmetic all share the same scale, so products are
// descaled once and square roots are rescaled once.
package precise

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// Scale is the fixed-point scaling factor.
	Scale uint64 = 1_000_000_000_000
	// SqrtScale is sqrt(Scale), the rescaling factor applied when a
	// square root is taken of an unscaled quantity.
	SqrtScale uint64 = 1_000_000
)

var (
	ErrOverflow     = errors.New("fixed-point overflow")
	ErrUnderflow    = errors.New("fixed-point underflow")
	ErrDivideByZero = errors.New("division by zero")
)

// One returns the scaled representation of 1.
func One() *uint256.Int {
	return uint256.NewInt(Scale)
}

// FromUint64 returns the scaled representation of x. The product of a
// 64-bit value and Scale always fits in 256 bits.
func FromUint64(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(Scale))
}

// Add returns a + b of two scaled values.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b of two scaled values.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// Mul returns the scaled product a * b / Scale.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, uint256.NewInt(Scale)), nil
}

// Square returns the scaled square a * a / Scale.
func Square(a *uint256.Int) (*uint256.Int, error) {
	return Mul(a, a)
}

// SqrtScaled returns the scaled square root of the scaled value a:
// floor(sqrt(a * Scale)). For a = x*Scale the result is the scaled
// representation of sqrt(x), e.g. SqrtScaled(4*Scale) == 2*Scale.
func SqrtScaled(a *uint256.Int) (*uint256.Int, error) {
	radicand, overflow := new(uint256.Int).MulOverflow(a, uint256.NewInt(Scale))
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sqrt(radicand), nil
}

// ScaleInt converts the plain integer a into its scaled representation.
func ScaleInt(a *uint256.Int) (*uint256.Int, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(a, uint256.NewInt(Scale))
	if overflow {
		return nil, ErrOverflow
	}
	return scaled, nil
}

// Descale converts the scaled value a to a plain integer, flooring.
func Descale(a *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(a, uint256.NewInt(Scale))
}

// DivInt returns the plain integer quotient a / b.
func DivInt(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivideByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulInt returns the plain integer product a * b.
func MulInt(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod, nil
}
