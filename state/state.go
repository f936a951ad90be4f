// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state defines the three persistent record kinds of the
// quadratic-funding program and their byte-exact little-endian layouts.
//
// Each record carries a sentinel marking "not yet initialized": the
// round status enum, the project's round back-reference, and the voter's
// explicit flag. Creating handlers must observe the sentinel and reject
// re-initialization; consuming handlers must reject records still in the
// sentinel state.
package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"

	"github.com/quadfund/qfvm/utils/wrappers"
)

const (
	// RoundLen is the packed size of a Round record.
	RoundLen = 250
	// ProjectLen is the packed size of a Project record.
	ProjectLen = 137
	// VoterLen is the packed size of a Voter record.
	VoterLen = 41
)

var ErrInvalidRecordData = errors.New("invalid record data")

// RoundStatus is the lifecycle state of a round. It only ever moves
// forward: Uninitialized -> Ongoing -> Finished.
type RoundStatus uint8

const (
	RoundUninitialized RoundStatus = iota
	RoundOngoing
	RoundFinished
)

func (s RoundStatus) String() string {
	switch s {
	case RoundUninitialized:
		return "uninitialized"
	case RoundOngoing:
		return "ongoing"
	case RoundFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Round is one matching-funding cycle.
//
// Area is the scaled sum of every member project's area and TotalArea is
// the same quantity descaled to integer units. TopArea and MinArea track
// the per-project extrema of the descaled area, with MinAreaP recording
// which project currently holds the minimum so that its value can be
// refreshed in place when that project changes.
type Round struct {
	Status        RoundStatus
	Ratio         uint8
	Fund          uint64
	Fee           uint64
	ProjectNumber uint64
	Vault         ids.ID
	Owner         ids.ID
	Area          *uint256.Int
	TotalArea     *uint256.Int
	TopArea       *uint256.Int
	MinArea       *uint256.Int
	MinAreaP      ids.ID
}

// IsInitialized returns whether the round has been started.
func (r *Round) IsInitialized() bool {
	return r.Status != RoundUninitialized
}

// Pack serializes the round into its 250-byte layout.
func (r *Round) Pack() ([]byte, error) {
	p := wrappers.NewPacker(RoundLen)
	p.PackByte(byte(r.Status))
	p.PackByte(r.Ratio)
	p.PackLong(r.Fund)
	p.PackLong(r.Fee)
	p.PackLong(r.ProjectNumber)
	p.PackID(r.Vault)
	p.PackID(r.Owner)
	p.PackUint256(orZero(r.Area))
	p.PackUint256(orZero(r.TotalArea))
	p.PackUint256(orZero(r.TopArea))
	p.PackUint256(orZero(r.MinArea))
	p.PackID(r.MinAreaP)
	return p.Bytes, p.Err
}

// UnpackRound deserializes a round record, without checking the
// initialization sentinel.
func UnpackRound(bytes []byte) (*Round, error) {
	if len(bytes) != RoundLen {
		return nil, fmt.Errorf("%w: round record is %d bytes, expected %d", ErrInvalidRecordData, len(bytes), RoundLen)
	}
	p := wrappers.NewUnpacker(bytes)
	r := &Round{
		Status:        RoundStatus(p.UnpackByte()),
		Ratio:         p.UnpackByte(),
		Fund:          p.UnpackLong(),
		Fee:           p.UnpackLong(),
		ProjectNumber: p.UnpackLong(),
		Vault:         p.UnpackID(),
		Owner:         p.UnpackID(),
		Area:          p.UnpackUint256(),
		TotalArea:     p.UnpackUint256(),
		TopArea:       p.UnpackUint256(),
		MinArea:       p.UnpackUint256(),
		MinAreaP:      p.UnpackID(),
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if r.Status > RoundFinished {
		return nil, fmt.Errorf("%w: unknown round status %d", ErrInvalidRecordData, r.Status)
	}
	return r, nil
}

// Project is one funding recipient within a round.
//
// AreaSqrt is the scaled running sum of sqrt(cumulative contribution)
// over this project's voters, maintained incrementally. Area is AreaSqrt
// squared and descaled once, i.e. the scaled (Σ sqrt(c_i))² credit.
type Project struct {
	Round    ids.ID
	Owner    ids.ID
	Withdraw bool
	Votes    uint64
	Area     *uint256.Int
	AreaSqrt *uint256.Int
}

// IsInitialized returns whether the project has been registered. The
// round back-reference doubles as the sentinel.
func (p *Project) IsInitialized() bool {
	return p.Round != ids.Empty
}

// Pack serializes the project into its 137-byte layout.
func (pr *Project) Pack() ([]byte, error) {
	p := wrappers.NewPacker(ProjectLen)
	p.PackID(pr.Round)
	p.PackID(pr.Owner)
	p.PackBool(pr.Withdraw)
	p.PackLong(pr.Votes)
	p.PackUint256(orZero(pr.Area))
	p.PackUint256(orZero(pr.AreaSqrt))
	return p.Bytes, p.Err
}

// UnpackProject deserializes a project record, without checking the
// initialization sentinel.
func UnpackProject(bytes []byte) (*Project, error) {
	if len(bytes) != ProjectLen {
		return nil, fmt.Errorf("%w: project record is %d bytes, expected %d", ErrInvalidRecordData, len(bytes), ProjectLen)
	}
	p := wrappers.NewUnpacker(bytes)
	pr := &Project{
		Round:    p.UnpackID(),
		Owner:    p.UnpackID(),
		Withdraw: p.UnpackBool(),
		Votes:    p.UnpackLong(),
		Area:     p.UnpackUint256(),
		AreaSqrt: p.UnpackUint256(),
	}
	if p.Err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecordData, p.Err)
	}
	return pr, nil
}

// Voter is one (project, contributor) relationship, stored at an address
// derived from both identities.
//
// VotesSqrt is the scaled sqrt of Votes at the last update; the next
// vote subtracts it from the project's AreaSqrt before adding the
// refreshed root.
type Voter struct {
	Initialized bool
	Votes       uint64
	VotesSqrt   *uint256.Int
}

// IsInitialized returns whether the voter record has been created.
func (v *Voter) IsInitialized() bool {
	return v.Initialized
}

// Pack serializes the voter into its 41-byte layout.
func (v *Voter) Pack() ([]byte, error) {
	p := wrappers.NewPacker(VoterLen)
	p.PackBool(v.Initialized)
	p.PackLong(v.Votes)
	p.PackUint256(orZero(v.VotesSqrt))
	return p.Bytes, p.Err
}

// UnpackVoter deserializes a voter record, without checking the
// initialization sentinel.
func UnpackVoter(bytes []byte) (*Voter, error) {
	if len(bytes) != VoterLen {
		return nil, fmt.Errorf("%w: voter record is %d bytes, expected %d", ErrInvalidRecordData, len(bytes), VoterLen)
	}
	p := wrappers.NewUnpacker(bytes)
	v := &Voter{
		Initialized: p.UnpackBool(),
		Votes:       p.UnpackLong(),
		VotesSqrt:   p.UnpackUint256(),
	}
	if p.Err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecordData, p.Err)
	}
	return v, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
