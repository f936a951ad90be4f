// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package processor

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/quadfund/qfvm/instruction"
	"github.com/quadfund/qfvm/precise"
	"github.com/quadfund/qfvm/runtime"
	"github.com/quadfund/qfvm/state"
)

const testDecimals uint8 = 6

type harness struct {
	require *require.Assertions

	programID ids.ID
	ledger    *runtime.Ledger
	p         *Processor

	mint      ids.ID
	round     ids.ID
	owner     ids.ID
	vault     ids.ID
	vaultAuth ids.ID
	funder    ids.ID
}

type project struct {
	addr  ids.ID
	owner ids.ID
}

type contributor struct {
	tokenAcct ids.ID
	owner     ids.ID
	voter     ids.ID
}

func newHarness(t *testing.T) *harness {
	r := require.New(t)

	h := &harness{
		require:   r,
		programID: ids.GenerateTestID(),
		ledger:    runtime.NewLedger(memdb.New()),
		mint:      ids.GenerateTestID(),
		owner:     ids.GenerateTestID(),
		vault:     ids.GenerateTestID(),
		funder:    ids.GenerateTestID(),
	}
	h.p = New(h.programID, h.ledger, log.NoLog{}, nil)
	h.vaultAuth = runtime.Derive(h.programID, h.owner[:])

	r.NoError(h.ledger.CreateMint(h.mint, testDecimals))
	r.NoError(h.ledger.CreateTokenAccount(h.vault, h.mint, h.vaultAuth))
	r.NoError(h.ledger.PutAccount(&runtime.Account{
		Address: h.funder,
		Balance: 1 << 40,
	}))
	r.NoError(h.ledger.Commit())

	h.round = h.newRecordAccount(state.RoundLen)
	return h
}

// newRecordAccount allocates a program-owned, rent-exempt account with a
// zeroed payload of the given size.
func (h *harness) newRecordAccount(size int) ids.ID {
	addr := ids.GenerateTestID()
	h.require.NoError(h.ledger.PutAccount(&runtime.Account{
		Address: addr,
		Owner:   h.programID,
		Balance: h.ledger.Rent().MinimumBalance(size),
		Data:    make([]byte, size),
	}))
	h.require.NoError(h.ledger.Commit())
	return addr
}

func (h *harness) startRound(ratio uint8, seed uint64) {
	if seed > 0 {
		h.require.NoError(h.ledger.MintTo(h.vault, seed))
		h.require.NoError(h.ledger.Commit())
	}
	h.require.NoError(h.p.ProcessInstruction(
		instruction.StartRound{Ratio: ratio},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.owner, Signer: true},
			{Address: h.vault},
		},
	))
}

func (h *harness) registerProject() project {
	p := project{
		addr:  h.newRecordAccount(state.ProjectLen),
		owner: ids.GenerateTestID(),
	}
	h.require.NoError(h.p.ProcessInstruction(
		instruction.RegisterProject{},
		[]runtime.AccountMeta{
			{Address: p.addr},
			{Address: h.round},
			{Address: p.owner, Signer: true},
		},
	))
	return p
}

func (h *harness) newContributor(proj project, balance uint64) contributor {
	c := contributor{
		tokenAcct: ids.GenerateTestID(),
		owner:     ids.GenerateTestID(),
	}
	h.require.NoError(h.ledger.CreateTokenAccount(c.tokenAcct, h.mint, c.owner))
	h.require.NoError(h.ledger.MintTo(c.tokenAcct, balance))
	h.require.NoError(h.ledger.Commit())

	c.voter = runtime.Derive(h.programID, proj.addr[:], c.tokenAcct[:])
	h.require.NoError(h.p.ProcessInstruction(
		instruction.InitVoter{},
		[]runtime.AccountMeta{
			{Address: c.voter},
			{Address: c.tokenAcct},
			{Address: proj.addr},
			{Address: h.funder},
		},
	))
	return c
}

func (h *harness) vote(c contributor, proj project, amount uint64) error {
	return h.p.ProcessInstruction(
		instruction.Vote{Amount: amount, Decimals: testDecimals},
		h.voteAccounts(c, proj),
	)
}

func (h *harness) voteAccounts(c contributor, proj project) []runtime.AccountMeta {
	return []runtime.AccountMeta{
		{Address: h.round},
		{Address: proj.addr},
		{Address: c.voter},
		{Address: c.tokenAcct},
		{Address: h.mint},
		{Address: h.vault},
		{Address: c.owner, Signer: true},
	}
}

func (h *harness) endRound() {
	h.require.NoError(h.p.ProcessInstruction(
		instruction.EndRound{},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.owner, Signer: true},
		},
	))
}

func (h *harness) withdraw(proj project, to ids.ID) error {
	return h.p.ProcessInstruction(
		instruction.Withdraw{},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.vault},
			{Address: h.vaultAuth},
			{Address: proj.addr},
			{Address: proj.owner, Signer: true},
			{Address: to},
		},
	)
}

func (h *harness) newDestination() ids.ID {
	addr := ids.GenerateTestID()
	h.require.NoError(h.ledger.CreateTokenAccount(addr, h.mint, ids.GenerateTestID()))
	h.require.NoError(h.ledger.Commit())
	return addr
}

func (h *harness) roundState() *state.Round {
	_, round, err := h.p.initializedRound(h.round)
	h.require.NoError(err)
	return round
}

func (h *harness) projectState(proj project) *state.Project {
	_, p, err := h.p.initializedProject(proj.addr)
	h.require.NoError(err)
	return p
}

func (h *harness) tokenBalance(addr ids.ID) uint64 {
	acct, err := h.ledger.TokenAccount(addr)
	h.require.NoError(err)
	return acct.Amount
}

func TestRoundLifecycle(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.startRound(1, 500)
	round := h.roundState()
	require.Equal(state.RoundOngoing, round.Status)
	require.Equal(uint64(500), round.Fund)
	require.Equal(h.owner, round.Owner)
	require.Equal(h.vault, round.Vault)

	// Restarting an initialized round fails.
	err := h.p.ProcessInstruction(
		instruction.StartRound{Ratio: 1},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.owner, Signer: true},
			{Address: h.vault},
		},
	)
	require.ErrorIs(err, ErrAlreadyInitialized)

	proj := h.registerProject()
	require.Equal(uint64(1), h.roundState().ProjectNumber)
	require.Equal(h.round, h.projectState(proj).Round)

	c := h.newContributor(proj, 1_000)

	// Only the round owner may end the round.
	stranger := ids.GenerateTestID()
	err = h.p.ProcessInstruction(
		instruction.EndRound{},
		[]runtime.AccountMeta{{Address: h.round}, {Address: stranger, Signer: true}},
	)
	require.ErrorIs(err, ErrOwnerMismatch)

	h.endRound()
	require.Equal(state.RoundFinished, h.roundState().Status)

	// The transition is terminal.
	err = h.p.ProcessInstruction(
		instruction.EndRound{},
		[]runtime.AccountMeta{{Address: h.round}, {Address: h.owner, Signer: true}},
	)
	require.ErrorIs(err, ErrRoundStatus)

	// No registrations after the round ends.
	late := h.newRecordAccount(state.ProjectLen)
	err = h.p.ProcessInstruction(
		instruction.RegisterProject{},
		[]runtime.AccountMeta{
			{Address: late},
			{Address: h.round},
			{Address: ids.GenerateTestID(), Signer: true},
		},
	)
	require.ErrorIs(err, ErrRoundStatus)

	// No votes after the round ends.
	err = h.vote(c, proj, 10)
	require.ErrorIs(err, ErrRoundStatus)
	require.True(h.projectState(proj).Area.IsZero())

	// No bans either.
	err = h.p.ProcessInstruction(
		instruction.BanProject{BanAmount: precise.FromUint64(1)},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.owner, Signer: true},
			{Address: proj.addr},
		},
	)
	require.ErrorIs(err, ErrRoundStatus)
}

func TestDonate(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 100)

	donor := ids.GenerateTestID()
	donorAcct := ids.GenerateTestID()
	require.NoError(h.ledger.CreateTokenAccount(donorAcct, h.mint, donor))
	require.NoError(h.ledger.MintTo(donorAcct, 1000))
	require.NoError(h.ledger.Commit())

	donate := func(to ids.ID, amount uint64) error {
		return h.p.ProcessInstruction(
			instruction.Donate{Amount: amount, Decimals: testDecimals},
			[]runtime.AccountMeta{
				{Address: h.round},
				{Address: donorAcct},
				{Address: h.mint},
				{Address: to},
				{Address: donor, Signer: true},
			},
		)
	}

	require.NoError(donate(h.vault, 250))
	require.Equal(uint64(350), h.roundState().Fund)
	require.Equal(uint64(350), h.tokenBalance(h.vault))

	// The destination must be the round's vault.
	other := h.newDestination()
	require.ErrorIs(donate(other, 1), ErrVaultMismatch)

	// Donations stop once the round is over.
	h.endRound()
	require.ErrorIs(donate(h.vault, 1), ErrRoundStatus)
	require.Equal(uint64(350), h.roundState().Fund)
}

func TestInitVoterDerivedAddress(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)
	proj := h.registerProject()

	holder := ids.GenerateTestID()
	require.NoError(h.ledger.CreateTokenAccount(holder, h.mint, ids.GenerateTestID()))
	require.NoError(h.ledger.Commit())

	// Any address other than the derived one is rejected.
	err := h.p.ProcessInstruction(
		instruction.InitVoter{},
		[]runtime.AccountMeta{
			{Address: ids.GenerateTestID()},
			{Address: holder},
			{Address: proj.addr},
			{Address: h.funder},
		},
	)
	require.ErrorIs(err, ErrVoterMismatch)

	voter := runtime.Derive(h.programID, proj.addr[:], holder[:])
	metas := []runtime.AccountMeta{
		{Address: voter},
		{Address: holder},
		{Address: proj.addr},
		{Address: h.funder},
	}
	require.NoError(h.p.ProcessInstruction(instruction.InitVoter{}, metas))

	// The record cannot be allocated twice.
	err = h.p.ProcessInstruction(instruction.InitVoter{}, metas)
	require.ErrorIs(err, runtime.ErrAccountExists)
}

func TestVoteAccumulatesQuadraticArea(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)
	proj := h.registerProject()

	alice := h.newContributor(proj, 10_000)
	bob := h.newContributor(proj, 10_000)

	require.NoError(h.vote(alice, proj, 100))
	require.NoError(h.vote(bob, proj, 400))

	// sqrt(100) + sqrt(400) = 30; area = 30^2 = 900.
	p := h.projectState(proj)
	require.Equal(precise.FromUint64(30), p.AreaSqrt)
	require.Equal(precise.FromUint64(900), p.Area)
	require.Equal(uint64(500), p.Votes)
	require.Equal(uint64(500), h.tokenBalance(h.vault))

	round := h.roundState()
	require.Equal(p.Area, round.Area)
	require.Equal(uint256.NewInt(900), round.TotalArea)
	require.Equal(uint256.NewInt(900), round.TopArea)

	// Alice tops up to 400 total: root-sum becomes 20+20, area 1600.
	require.NoError(h.vote(alice, proj, 300))
	p = h.projectState(proj)
	require.Equal(precise.FromUint64(40), p.AreaSqrt)
	require.Equal(precise.FromUint64(1600), p.Area)
	require.Equal(uint64(800), p.Votes)
}

func TestVoteOrderIndependence(t *testing.T) {
	require := require.New(t)

	run := func(order [][2]uint64) *uint256.Int {
		h := newHarness(t)
		h.startRound(1, 0)
		proj := h.registerProject()
		cs := []contributor{
			h.newContributor(proj, 10_000),
			h.newContributor(proj, 10_000),
			h.newContributor(proj, 10_000),
		}
		for _, step := range order {
			require.NoError(h.vote(cs[step[0]], proj, step[1]))
		}
		return h.projectState(proj).Area
	}

	a := run([][2]uint64{{0, 7}, {1, 13}, {0, 5}, {2, 31}, {1, 2}})
	b := run([][2]uint64{{2, 31}, {1, 2}, {0, 5}, {1, 13}, {0, 7}})
	require.Equal(a, b)
}

func TestRoundAreaIsSumOfProjectAreas(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)

	a := h.registerProject()
	b := h.registerProject()
	ca := h.newContributor(a, 10_000)
	cb := h.newContributor(b, 10_000)

	require.NoError(h.vote(ca, a, 17))
	require.NoError(h.vote(cb, b, 230))
	require.NoError(h.vote(ca, a, 83))

	sum, err := precise.Add(h.projectState(a).Area, h.projectState(b).Area)
	require.NoError(err)
	require.Equal(sum, h.roundState().Area)
	require.Equal(precise.Descale(sum), h.roundState().TotalArea)
}

func TestVoteMinHolderRefreshedInPlace(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)

	a := h.registerProject()
	b := h.registerProject()
	ca := h.newContributor(a, 10_000)
	cb := h.newContributor(b, 10_000)

	require.NoError(h.vote(ca, a, 100))
	require.NoError(h.vote(cb, b, 400))

	round := h.roundState()
	require.Equal(a.addr, round.MinAreaP)
	require.Equal(uint256.NewInt(100), round.MinArea)

	// The tracked minimum holder votes again. Its value is refreshed in
	// place even though project b now has the smaller area; the true
	// minimum across projects is not recomputed.
	require.NoError(h.vote(ca, a, 800))
	round = h.roundState()
	require.Equal(a.addr, round.MinAreaP)
	require.Equal(precise.Descale(h.projectState(a).Area), round.MinArea)
	require.Equal(precise.Descale(h.projectState(a).Area), round.TopArea)
}

func TestVoteFailureLeavesNoPartialState(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)
	proj := h.registerProject()
	poor := h.newContributor(proj, 50)

	before := h.roundState()
	err := h.vote(poor, proj, 100)
	require.ErrorIs(err, runtime.ErrInsufficientFunds)

	after := h.roundState()
	require.Equal(before, after)
	require.Equal(uint64(50), h.tokenBalance(poor.tokenAcct))
	require.True(h.projectState(proj).Area.IsZero())
}

func TestWithdrawCappedScenario(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(2, 1000)

	a := h.registerProject()
	b := h.registerProject()
	require.NoError(h.vote(h.newContributor(a, 10_000), a, 100))
	require.NoError(h.vote(h.newContributor(b, 10_000), b, 400))
	h.endRound()

	// areas 100 and 400, total 500, avg 250, spread 150 + 150*2 = 450.
	// shrink = 250e12/450 = 555_555_555_555. Capped credits: 166 and 333.
	// A: 100 raw + 1000*166/500 = 432, fee 21, net 411.
	// B: 400 raw + 1000*333/500 = 1066, fee 53, net 1013.
	destA := h.newDestination()
	require.NoError(h.withdraw(a, destA))
	require.Equal(uint64(411), h.tokenBalance(destA))
	require.Equal(uint64(21), h.roundState().Fee)
	require.True(h.projectState(a).Withdraw)

	destB := h.newDestination()
	require.NoError(h.withdraw(b, destB))
	require.Equal(uint64(1013), h.tokenBalance(destB))
	require.Equal(uint64(74), h.roundState().Fee)

	// Each project withdraws exactly once.
	err := h.withdraw(a, destA)
	require.ErrorIs(err, ErrAlreadyWithdrawn)
	require.Equal(uint64(411), h.tokenBalance(destA))
	require.Equal(uint64(74), h.roundState().Fee)
}

func TestWithdrawRatioOneCapNoop(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 1000)

	a := h.registerProject()
	b := h.registerProject()
	require.NoError(h.vote(h.newContributor(a, 10_000), a, 100))
	require.NoError(h.vote(h.newContributor(b, 10_000), b, 400))
	h.endRound()

	// At ratio 1 credits pass through uncapped: A gets 100 + 1000*100/500
	// = 300, fee 15, net 285.
	dest := h.newDestination()
	require.NoError(h.withdraw(a, dest))
	require.Equal(uint64(285), h.tokenBalance(dest))
	require.Equal(uint64(15), h.roundState().Fee)
}

func TestWithdrawZeroTotalArea(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(2, 1000)
	proj := h.registerProject()
	h.endRound()

	// A round that finishes with no votes has total_area == 0: the
	// matching term is skipped rather than divided, and the payout is
	// the project's raw votes, zero.
	dest := h.newDestination()
	require.NoError(h.withdraw(proj, dest))
	require.Equal(uint64(0), h.tokenBalance(dest))
	require.Equal(uint64(0), h.roundState().Fee)
	require.True(h.projectState(proj).Withdraw)
	require.Equal(uint64(1000), h.tokenBalance(h.vault))
}

func TestWithdrawChecks(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(2, 1000)
	proj := h.registerProject()
	require.NoError(h.vote(h.newContributor(proj, 10_000), proj, 100))

	dest := h.newDestination()

	// The round must be finished first.
	err := h.withdraw(proj, dest)
	require.ErrorIs(err, ErrRoundStatus)
	h.endRound()

	// Only the project owner, signing, may withdraw.
	err = h.p.ProcessInstruction(
		instruction.Withdraw{},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.vault},
			{Address: h.vaultAuth},
			{Address: proj.addr},
			{Address: ids.GenerateTestID(), Signer: true},
			{Address: dest},
		},
	)
	require.ErrorIs(err, ErrOwnerMismatch)

	err = h.p.ProcessInstruction(
		instruction.Withdraw{},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.vault},
			{Address: h.vaultAuth},
			{Address: proj.addr},
			{Address: proj.owner},
			{Address: dest},
		},
	)
	require.ErrorIs(err, ErrMissingSignature)

	// A forged vault authority cannot move vault funds.
	err = h.p.ProcessInstruction(
		instruction.Withdraw{},
		[]runtime.AccountMeta{
			{Address: h.round},
			{Address: h.vault},
			{Address: ids.GenerateTestID()},
			{Address: proj.addr},
			{Address: proj.owner, Signer: true},
			{Address: dest},
		},
	)
	require.ErrorIs(err, runtime.ErrAuthorityMismatch)
	require.Equal(uint64(0), h.tokenBalance(dest))
}

func TestWithdrawFee(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(2, 1000)

	a := h.registerProject()
	b := h.registerProject()
	require.NoError(h.vote(h.newContributor(a, 10_000), a, 100))
	require.NoError(h.vote(h.newContributor(b, 10_000), b, 400))
	h.endRound()
	require.NoError(h.withdraw(a, h.newDestination()))
	require.NoError(h.withdraw(b, h.newDestination()))

	feeDest := h.newDestination()
	metas := []runtime.AccountMeta{
		{Address: h.round},
		{Address: h.owner, Signer: true},
		{Address: h.vault},
		{Address: h.vaultAuth},
		{Address: feeDest},
	}
	require.NoError(h.p.ProcessInstruction(instruction.WithdrawFee{}, metas))
	require.Equal(uint64(74), h.tokenBalance(feeDest))
	require.Equal(uint64(0), h.roundState().Fee)

	// Draining again moves nothing.
	require.NoError(h.p.ProcessInstruction(instruction.WithdrawFee{}, metas))
	require.Equal(uint64(74), h.tokenBalance(feeDest))

	// Only the round owner may collect the fee.
	metas[1] = runtime.AccountMeta{Address: ids.GenerateTestID(), Signer: true}
	err := h.p.ProcessInstruction(instruction.WithdrawFee{}, metas)
	require.ErrorIs(err, ErrOwnerMismatch)
}

func TestBanProject(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)

	a := h.registerProject()
	b := h.registerProject()
	require.NoError(h.vote(h.newContributor(a, 10_000), a, 400))
	require.NoError(h.vote(h.newContributor(b, 10_000), b, 100))

	ban := func(owner ids.ID, signed bool, amount *uint256.Int) error {
		return h.p.ProcessInstruction(
			instruction.BanProject{BanAmount: amount},
			[]runtime.AccountMeta{
				{Address: h.round},
				{Address: owner, Signer: signed},
				{Address: a.addr},
			},
		)
	}

	require.ErrorIs(ban(ids.GenerateTestID(), true, precise.FromUint64(1)), ErrOwnerMismatch)
	require.ErrorIs(ban(h.owner, false, precise.FromUint64(1)), ErrMissingSignature)

	// Strip 300 of the project's 400 area units.
	require.NoError(ban(h.owner, true, precise.FromUint64(300)))

	p := h.projectState(a)
	require.Equal(precise.FromUint64(100), p.Area)
	require.Equal(precise.FromUint64(10), p.AreaSqrt)

	// The round-wide area drops in lockstep, keeping the sum invariant.
	sum, err := precise.Add(p.Area, h.projectState(b).Area)
	require.NoError(err)
	require.Equal(sum, h.roundState().Area)

	// Removing more area than the project has is rejected.
	err = ban(h.owner, true, precise.FromUint64(101))
	require.ErrorIs(err, precise.ErrUnderflow)
}

func TestProcessWireFormat(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.startRound(1, 0)
	proj := h.registerProject()
	c := h.newContributor(proj, 10_000)

	// Drive one vote through the packed wire form.
	input := instruction.Vote{Amount: 100, Decimals: testDecimals}.Pack()
	require.NoError(h.p.Process(input, h.voteAccounts(c, proj)))
	require.Equal(precise.FromUint64(100), h.projectState(proj).Area)

	err := h.p.Process([]byte{0xff}, nil)
	require.ErrorIs(err, instruction.ErrInvalidInstructionData)
}
