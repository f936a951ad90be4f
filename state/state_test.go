// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestRoundLayout(t *testing.T) {
	require := require.New(t)

	r := &Round{
		Status:        RoundOngoing,
		Ratio:         3,
		Fund:          1000,
		Fee:           50,
		ProjectNumber: 2,
		Vault:         ids.GenerateTestID(),
		Owner:         ids.GenerateTestID(),
		Area:          uint256.NewInt(7),
		TotalArea:     uint256.NewInt(8),
		TopArea:       uint256.NewInt(9),
		MinArea:       uint256.NewInt(1),
		MinAreaP:      ids.GenerateTestID(),
	}
	bytes, err := r.Pack()
	require.NoError(err)
	require.Len(bytes, RoundLen)

	// Fixed field offsets: status, ratio, then LE u64 fund.
	require.Equal(byte(RoundOngoing), bytes[0])
	require.Equal(byte(3), bytes[1])
	require.Equal(byte(0xe8), bytes[2]) // 1000 = 0x03e8 little-endian
	require.Equal(byte(0x03), bytes[3])

	got, err := UnpackRound(bytes)
	require.NoError(err)
	require.Equal(r, got)
}

func TestRoundUninitializedSentinel(t *testing.T) {
	require := require.New(t)

	got, err := UnpackRound(make([]byte, RoundLen))
	require.NoError(err)
	require.False(got.IsInitialized())
	require.Equal(RoundUninitialized, got.Status)
}

func TestRoundBadStatus(t *testing.T) {
	require := require.New(t)

	bytes := make([]byte, RoundLen)
	bytes[0] = 3
	_, err := UnpackRound(bytes)
	require.ErrorIs(err, ErrInvalidRecordData)
}

func TestRoundBadLength(t *testing.T) {
	require := require.New(t)

	_, err := UnpackRound(make([]byte, RoundLen-1))
	require.ErrorIs(err, ErrInvalidRecordData)
	_, err = UnpackRound(make([]byte, RoundLen+1))
	require.ErrorIs(err, ErrInvalidRecordData)
}

func TestProjectLayout(t *testing.T) {
	require := require.New(t)

	pr := &Project{
		Round:    ids.GenerateTestID(),
		Owner:    ids.GenerateTestID(),
		Withdraw: true,
		Votes:    500,
		Area:     uint256.MustFromDecimal("100000000000000"),
		AreaSqrt: uint256.MustFromDecimal("10000000000000"),
	}
	bytes, err := pr.Pack()
	require.NoError(err)
	require.Len(bytes, ProjectLen)
	require.Equal(byte(1), bytes[64]) // withdraw flag after two ids

	got, err := UnpackProject(bytes)
	require.NoError(err)
	require.Equal(pr, got)
}

func TestProjectSentinelIsRoundRef(t *testing.T) {
	require := require.New(t)

	got, err := UnpackProject(make([]byte, ProjectLen))
	require.NoError(err)
	require.False(got.IsInitialized())

	got.Round = ids.GenerateTestID()
	require.True(got.IsInitialized())
}

func TestProjectBadWithdrawByte(t *testing.T) {
	require := require.New(t)

	bytes := make([]byte, ProjectLen)
	bytes[64] = 2
	_, err := UnpackProject(bytes)
	require.ErrorIs(err, ErrInvalidRecordData)
}

func TestVoterLayout(t *testing.T) {
	require := require.New(t)

	v := &Voter{
		Initialized: true,
		Votes:       900,
		VotesSqrt:   uint256.MustFromDecimal("30000000000000"),
	}
	bytes, err := v.Pack()
	require.NoError(err)
	require.Len(bytes, VoterLen)

	got, err := UnpackVoter(bytes)
	require.NoError(err)
	require.Equal(v, got)
}

func TestVoterSentinel(t *testing.T) {
	require := require.New(t)

	got, err := UnpackVoter(make([]byte, VoterLen))
	require.NoError(err)
	require.False(got.IsInitialized())

	bytes := make([]byte, VoterLen)
	bytes[0] = 7
	_, err = UnpackVoter(bytes)
	require.ErrorIs(err, ErrInvalidRecordData)
}
