// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package processor implements the nine operations of the
// quadratic-funding program: round lifecycle, funding, project
// registration, voting with incremental quadratic-area accounting,
// capped matching withdrawal, fee withdrawal, and project banning.
//
// Handlers receive accounts positionally, the way the host dispatcher
// supplies them, validate ownership, sentinels, identities and
// signatures, then mutate records. The ledger's versioned layer makes
// each instruction all-or-nothing: any error aborts every write.
package processor

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quadfund/qfvm/instruction"
	"github.com/quadfund/qfvm/metrics"
	"github.com/quadfund/qfvm/precise"
	"github.com/quadfund/qfvm/runtime"
	"github.com/quadfund/qfvm/state"
	"github.com/quadfund/qfvm/utils/math"
)

// feePercent is the platform's cut of every withdrawal.
const feePercent = 5

// Processor executes program instructions against a ledger.
type Processor struct {
	programID ids.ID
	ledger    *runtime.Ledger
	log       log.Logger
	metrics   *metrics.Metrics
}

// New returns a processor for the program at programID. metrics may be
// nil.
func New(programID ids.ID, ledger *runtime.Ledger, logger log.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		programID: programID,
		ledger:    ledger,
		log:       logger,
		metrics:   m,
	}
}

// Process decodes and executes one instruction. On any failure the
// ledger's buffered writes are dropped, so a failed instruction leaves
// no partial state behind.
func (p *Processor) Process(input []byte, accounts []runtime.AccountMeta) error {
	ix, err := instruction.Unpack(input)
	if err != nil {
		return err
	}
	return p.ProcessInstruction(ix, accounts)
}

// ProcessInstruction executes one decoded instruction atomically.
func (p *Processor) ProcessInstruction(ix instruction.Instruction, accounts []runtime.AccountMeta) error {
	name := instructionName(ix)
	p.log.Debug("processing instruction", "instruction", name)

	var err error
	switch ix := ix.(type) {
	case instruction.StartRound:
		err = p.startRound(accounts, ix.Ratio)
	case instruction.Donate:
		err = p.donate(accounts, ix.Amount, ix.Decimals)
	case instruction.RegisterProject:
		err = p.registerProject(accounts)
	case instruction.InitVoter:
		err = p.initVoter(accounts)
	case instruction.Vote:
		err = p.vote(accounts, ix.Amount, ix.Decimals)
	case instruction.Withdraw:
		err = p.withdraw(accounts)
	case instruction.EndRound:
		err = p.endRound(accounts)
	case instruction.WithdrawFee:
		err = p.withdrawFee(accounts)
	case instruction.BanProject:
		err = p.banProject(accounts, ix.BanAmount)
	default:
		err = instruction.ErrInvalidInstructionData
	}
	if err != nil {
		p.ledger.Abort()
		p.metrics.MarkFailed(name)
		p.log.Debug("instruction failed", "instruction", name, "error", err)
		return err
	}
	p.metrics.MarkProcessed(name)
	return p.ledger.Commit()
}

// startRound initializes a round record and binds it to its owner and
// vault. The vault must already be controlled by the round's derived
// authority; its current balance seeds the matching fund.
//
// Accounts: round, round owner, vault.
func (p *Processor) startRound(accounts []runtime.AccountMeta, ratio uint8) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	roundMeta, ownerMeta, vaultMeta := accounts[0], accounts[1], accounts[2]

	acct, round, err := p.roundAccount(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if !p.ledger.Rent().IsExempt(acct.Balance, state.RoundLen) {
		return ErrNotRentExempt
	}

	authority := runtime.Derive(p.programID, ownerMeta.Address[:])
	vault, err := p.ledger.TokenAccount(vaultMeta.Address)
	if err != nil {
		return err
	}
	if vault.Owner != authority {
		return fmt.Errorf("%w: vault is not controlled by the round authority", ErrOwnerMismatch)
	}

	round.Status = state.RoundOngoing
	round.Ratio = ratio
	round.Fund = vault.Amount
	round.Owner = ownerMeta.Address
	round.Vault = vaultMeta.Address
	round.Area = new(uint256.Int)

	return p.saveRound(acct, round)
}

// donate moves tokens into the round's vault and grows the matching
// fund.
//
// Accounts: round, from, mint, to, from authority.
func (p *Processor) donate(accounts []runtime.AccountMeta, amount uint64, decimals uint8) error {
	if len(accounts) < 5 {
		return ErrNotEnoughAccounts
	}
	roundMeta, fromMeta, mintMeta, toMeta, authMeta := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]

	acct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundOngoing {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}
	if toMeta.Address != round.Vault {
		return ErrVaultMismatch
	}

	auth := runtime.Authority{Address: authMeta.Address, Signed: authMeta.Signer}
	if err := p.ledger.TransferChecked(fromMeta.Address, mintMeta.Address, toMeta.Address, auth, amount, decimals); err != nil {
		return err
	}

	round.Fund, err = math.Add(round.Fund, amount)
	if err != nil {
		return err
	}
	return p.saveRound(acct, round)
}

// registerProject initializes a project record inside an ongoing round.
//
// Accounts: project, round, project owner.
func (p *Processor) registerProject(accounts []runtime.AccountMeta) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	projectMeta, roundMeta, ownerMeta := accounts[0], accounts[1], accounts[2]

	roundAcct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundOngoing {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}

	projectAcct, project, err := p.projectAccount(projectMeta.Address)
	if err != nil {
		return err
	}
	if project.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if !p.ledger.Rent().IsExempt(projectAcct.Balance, state.ProjectLen) {
		return ErrNotRentExempt
	}

	project.Round = roundMeta.Address
	project.Owner = ownerMeta.Address
	project.Withdraw = false
	project.Votes = 0
	project.Area = new(uint256.Int)

	round.ProjectNumber, err = math.Add(round.ProjectNumber, 1)
	if err != nil {
		return err
	}
	if err := p.saveRound(roundAcct, round); err != nil {
		return err
	}
	return p.saveProject(projectAcct, project)
}

// initVoter allocates and initializes the voter record bound to one
// (project, contributor) pair. The record's address must equal the
// derived address for that pair; the funder account pays the record up
// to the rent-exempt minimum.
//
// Accounts: voter, voter token holder, project, funder.
func (p *Processor) initVoter(accounts []runtime.AccountMeta) error {
	if len(accounts) < 4 {
		return ErrNotEnoughAccounts
	}
	voterMeta, holderMeta, projectMeta, funderMeta := accounts[0], accounts[1], accounts[2], accounts[3]

	if _, _, err := p.initializedProject(projectMeta.Address); err != nil {
		return err
	}

	expected := runtime.Derive(p.programID, projectMeta.Address[:], holderMeta.Address[:])
	if voterMeta.Address != expected {
		return ErrVoterMismatch
	}

	if err := p.ledger.CreateAccount(voterMeta.Address, state.VoterLen, p.programID, funderMeta.Address); err != nil {
		return err
	}

	acct, voter, err := p.voterAccount(voterMeta.Address)
	if err != nil {
		return err
	}
	if voter.IsInitialized() {
		return ErrAlreadyInitialized
	}

	voter.Initialized = true
	voter.Votes = 0
	voter.VotesSqrt = new(uint256.Int)

	return p.saveVoter(acct, voter)
}

// vote transfers tokens to the round's vault and folds the contribution
// into the project's quadratic area.
//
// The project's running root-sum is updated incrementally: the voter's
// stale sqrt contribution is removed and the sqrt of their new
// cumulative total is added, so AreaSqrt always equals
// Σ_voters sqrt(cumulative contribution) without re-summing. The
// project's area is the square of that root-sum, and the round's
// aggregate area swaps the project's old area for the new one.
//
// Accounts: round, project, voter, from, mint, to, from authority.
func (p *Processor) vote(accounts []runtime.AccountMeta, amount uint64, decimals uint8) error {
	if len(accounts) < 7 {
		return ErrNotEnoughAccounts
	}
	roundMeta, projectMeta, voterMeta := accounts[0], accounts[1], accounts[2]
	fromMeta, mintMeta, toMeta, authMeta := accounts[3], accounts[4], accounts[5], accounts[6]

	roundAcct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundOngoing {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}
	if toMeta.Address != round.Vault {
		return ErrVaultMismatch
	}

	projectAcct, project, err := p.initializedProject(projectMeta.Address)
	if err != nil {
		return err
	}
	if project.Round != roundMeta.Address {
		return ErrRoundMismatch
	}

	expected := runtime.Derive(p.programID, projectMeta.Address[:], fromMeta.Address[:])
	if voterMeta.Address != expected {
		return ErrVoterMismatch
	}
	voterAcct, voter, err := p.voterAccount(voterMeta.Address)
	if err != nil {
		return err
	}
	if !voter.IsInitialized() {
		return ErrNotInitialized
	}

	auth := runtime.Authority{Address: authMeta.Address, Signed: authMeta.Signer}
	if err := p.ledger.TransferChecked(fromMeta.Address, mintMeta.Address, toMeta.Address, auth, amount, decimals); err != nil {
		return err
	}

	// Swap the project's stale area out of the round-wide total before
	// recomputing it.
	round.Area, err = precise.Sub(round.Area, project.Area)
	if err != nil {
		return err
	}

	newVotes, err := math.Add(voter.Votes, amount)
	if err != nil {
		return err
	}
	newVotesSqrt, err := precise.SqrtScaled(precise.FromUint64(newVotes))
	if err != nil {
		return err
	}

	areaSqrt, err := precise.Sub(project.AreaSqrt, voter.VotesSqrt)
	if err != nil {
		return err
	}
	areaSqrt, err = precise.Add(areaSqrt, newVotesSqrt)
	if err != nil {
		return err
	}
	project.AreaSqrt = areaSqrt
	project.Area, err = precise.Square(areaSqrt)
	if err != nil {
		return err
	}
	project.Votes, err = math.Add(project.Votes, amount)
	if err != nil {
		return err
	}

	voter.Votes = newVotes
	voter.VotesSqrt = newVotesSqrt

	votes := precise.Descale(project.Area)
	if votes.Gt(round.TopArea) {
		round.TopArea = votes
	}
	if round.MinArea.IsZero() || votes.Lt(round.MinArea) {
		round.MinArea = votes
		round.MinAreaP = projectMeta.Address
	} else if round.MinAreaP == projectMeta.Address {
		// The tracked minimum holder changed; refresh its value in
		// place. The true minimum is not recomputed across projects.
		round.MinArea = votes
	}

	round.Area, err = precise.Add(round.Area, project.Area)
	if err != nil {
		return err
	}
	round.TotalArea = precise.Descale(round.Area)

	if err := p.saveProject(projectAcct, project); err != nil {
		return err
	}
	if err := p.saveVoter(voterAcct, voter); err != nil {
		return err
	}
	return p.saveRound(roundAcct, round)
}

// withdraw pays a project its raw votes plus its capped share of the
// matching fund, less the platform fee.
//
// The cap pulls each project's quadratic credit toward the per-project
// average: with spread d = (top-avg) + (avg-min)*ratio and shrink
// factor s = (ratio-1)*avg/d (fixed point), credit above the average
// keeps s of its excess and credit below recovers (1-s) of its
// deficit. At ratio 1 the cap is a no-op.
//
// Accounts: round, vault, vault authority, project, project owner, to.
func (p *Processor) withdraw(accounts []runtime.AccountMeta) error {
	if len(accounts) < 6 {
		return ErrNotEnoughAccounts
	}
	roundMeta, vaultMeta, vaultAuthMeta := accounts[0], accounts[1], accounts[2]
	projectMeta, ownerMeta, toMeta := accounts[3], accounts[4], accounts[5]

	roundAcct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundFinished {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}

	projectAcct, project, err := p.initializedProject(projectMeta.Address)
	if err != nil {
		return err
	}
	if project.Round != roundMeta.Address {
		return ErrRoundMismatch
	}
	if project.Withdraw {
		return ErrAlreadyWithdrawn
	}
	if !ownerMeta.Signer {
		return ErrMissingSignature
	}
	if project.Owner != ownerMeta.Address {
		return ErrOwnerMismatch
	}

	votes := precise.Descale(project.Area)
	fund := uint256.NewInt(round.Fund)
	amount := uint256.NewInt(project.Votes)

	p.log.Debug("withdraw",
		"project", projectMeta.Address,
		"votes", votes,
		"rawVotes", project.Votes,
		"fund", round.Fund,
		"totalArea", round.TotalArea,
		"projectNumber", round.ProjectNumber,
		"topArea", round.TopArea,
		"minArea", round.MinArea,
		"ratio", round.Ratio,
	)

	if !round.TotalArea.IsZero() && round.Ratio > 1 {
		votes, err = p.capVotes(round, votes)
		if err != nil {
			return err
		}
	}

	if !round.TotalArea.IsZero() {
		matched, err := precise.MulInt(fund, votes)
		if err != nil {
			return err
		}
		matched, err = precise.DivInt(matched, round.TotalArea)
		if err != nil {
			return err
		}
		amount, err = precise.Add(amount, matched)
		if err != nil {
			return err
		}
	}

	fee, err := precise.MulInt(amount, uint256.NewInt(feePercent))
	if err != nil {
		return err
	}
	fee, err = precise.DivInt(fee, uint256.NewInt(100))
	if err != nil {
		return err
	}
	amount, err = precise.Sub(amount, fee)
	if err != nil {
		return err
	}
	if !amount.IsUint64() || !fee.IsUint64() {
		return ErrAmountTooLarge
	}

	authority := runtime.Authority{
		Address: vaultAuthMeta.Address,
		Signed:  vaultAuthMeta.Address == runtime.Derive(p.programID, round.Owner[:]),
	}
	if err := p.ledger.Transfer(vaultMeta.Address, toMeta.Address, authority, amount.Uint64()); err != nil {
		return err
	}

	project.Withdraw = true
	if err := p.saveProject(projectAcct, project); err != nil {
		return err
	}

	round.Fee, err = math.Add(round.Fee, fee.Uint64())
	if err != nil {
		return err
	}
	return p.saveRound(roundAcct, round)
}

// capVotes applies the anti-whale transform to a project's quadratic
// credit. Callers ensure total_area > 0 and ratio > 1.
func (p *Processor) capVotes(round *state.Round, votes *uint256.Int) (*uint256.Int, error) {
	avg, err := precise.DivInt(round.TotalArea, uint256.NewInt(round.ProjectNumber))
	if err != nil {
		return nil, err
	}
	ratio := uint256.NewInt(uint64(round.Ratio))

	topSpread, err := precise.Sub(round.TopArea, avg)
	if err != nil {
		return nil, err
	}
	minSpread, err := precise.Sub(avg, round.MinArea)
	if err != nil {
		return nil, err
	}
	minSpread, err = precise.MulInt(minSpread, ratio)
	if err != nil {
		return nil, err
	}
	spread, err := precise.Add(topSpread, minSpread)
	if err != nil {
		return nil, err
	}
	if spread.IsZero() {
		return votes, nil
	}

	// s = (ratio-1) * avg / spread, fixed point.
	shrink, err := precise.MulInt(new(uint256.Int).SubUint64(ratio, 1), avg)
	if err != nil {
		return nil, err
	}
	shrink, err = precise.ScaleInt(shrink)
	if err != nil {
		return nil, err
	}
	shrink, err = precise.DivInt(shrink, spread)
	if err != nil {
		return nil, err
	}
	if !shrink.Lt(precise.One()) {
		return votes, nil
	}

	if votes.Gt(avg) {
		excess, err := precise.Sub(votes, avg)
		if err != nil {
			return nil, err
		}
		kept, err := precise.MulInt(shrink, excess)
		if err != nil {
			return nil, err
		}
		return precise.Add(avg, precise.Descale(kept))
	}
	deficit, err := precise.Sub(avg, votes)
	if err != nil {
		return nil, err
	}
	recovered, err := precise.MulInt(deficit, new(uint256.Int).Sub(precise.One(), shrink))
	if err != nil {
		return nil, err
	}
	return precise.Add(votes, precise.Descale(recovered))
}

// endRound freezes the round. Only the round owner may end it, and the
// transition is terminal.
//
// Accounts: round, owner.
func (p *Processor) endRound(accounts []runtime.AccountMeta) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccounts
	}
	roundMeta, ownerMeta := accounts[0], accounts[1]

	acct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundOngoing {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}
	if ownerMeta.Address != round.Owner {
		return ErrOwnerMismatch
	}
	if !ownerMeta.Signer {
		return ErrMissingSignature
	}

	round.Status = state.RoundFinished
	return p.saveRound(acct, round)
}

// withdrawFee drains the accumulated platform fee to the owner's
// destination. A failed transfer leaves the fee untouched.
//
// Accounts: round, owner, vault, vault authority, to.
func (p *Processor) withdrawFee(accounts []runtime.AccountMeta) error {
	if len(accounts) < 5 {
		return ErrNotEnoughAccounts
	}
	roundMeta, ownerMeta, vaultMeta := accounts[0], accounts[1], accounts[2]
	vaultAuthMeta, toMeta := accounts[3], accounts[4]

	acct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundFinished {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}
	if ownerMeta.Address != round.Owner {
		return ErrOwnerMismatch
	}
	if !ownerMeta.Signer {
		return ErrMissingSignature
	}
	if vaultMeta.Address != round.Vault {
		return ErrVaultMismatch
	}

	authority := runtime.Authority{
		Address: vaultAuthMeta.Address,
		Signed:  vaultAuthMeta.Address == runtime.Derive(p.programID, round.Owner[:]),
	}
	if err := p.ledger.Transfer(vaultMeta.Address, toMeta.Address, authority, round.Fee); err != nil {
		return err
	}

	round.Fee = 0
	return p.saveRound(acct, round)
}

// banProject punitively removes ban_amount of quadratic area from a
// project and from the round-wide total, then re-derives the project's
// root-sum from the reduced area. The exact per-voter root-sum is
// abandoned for this project from here on.
//
// Accounts: round, owner, project.
func (p *Processor) banProject(accounts []runtime.AccountMeta, banAmount *uint256.Int) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	roundMeta, ownerMeta, projectMeta := accounts[0], accounts[1], accounts[2]

	roundAcct, round, err := p.initializedRound(roundMeta.Address)
	if err != nil {
		return err
	}
	if round.Status != state.RoundOngoing {
		return fmt.Errorf("%w: round is %s", ErrRoundStatus, round.Status)
	}
	if ownerMeta.Address != round.Owner {
		return ErrOwnerMismatch
	}
	if !ownerMeta.Signer {
		return ErrMissingSignature
	}

	projectAcct, project, err := p.initializedProject(projectMeta.Address)
	if err != nil {
		return err
	}

	project.Area, err = precise.Sub(project.Area, banAmount)
	if err != nil {
		return err
	}
	root, err := precise.SqrtScaled(precise.Descale(project.Area))
	if err != nil {
		return err
	}
	project.AreaSqrt, err = precise.MulInt(root, uint256.NewInt(precise.SqrtScale))
	if err != nil {
		return err
	}
	round.Area, err = precise.Sub(round.Area, banAmount)
	if err != nil {
		return err
	}

	if err := p.saveRound(roundAcct, round); err != nil {
		return err
	}
	return p.saveProject(projectAcct, project)
}

// Record loading and saving helpers. Loaders validate that the backing
// account is owned by the program before decoding; "initialized"
// variants additionally reject records still in their sentinel state.

func (p *Processor) roundAccount(addr ids.ID) (*runtime.Account, *state.Round, error) {
	acct, err := p.ledger.Account(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct.Owner != p.programID {
		return nil, nil, fmt.Errorf("%w: %s", ErrIncorrectProgramOwner, addr)
	}
	round, err := state.UnpackRound(acct.Data)
	if err != nil {
		return nil, nil, err
	}
	return acct, round, nil
}

func (p *Processor) initializedRound(addr ids.ID) (*runtime.Account, *state.Round, error) {
	acct, round, err := p.roundAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	if !round.IsInitialized() {
		return nil, nil, fmt.Errorf("%w: round %s", ErrNotInitialized, addr)
	}
	return acct, round, nil
}

func (p *Processor) projectAccount(addr ids.ID) (*runtime.Account, *state.Project, error) {
	acct, err := p.ledger.Account(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct.Owner != p.programID {
		return nil, nil, fmt.Errorf("%w: %s", ErrIncorrectProgramOwner, addr)
	}
	project, err := state.UnpackProject(acct.Data)
	if err != nil {
		return nil, nil, err
	}
	return acct, project, nil
}

func (p *Processor) initializedProject(addr ids.ID) (*runtime.Account, *state.Project, error) {
	acct, project, err := p.projectAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	if !project.IsInitialized() {
		return nil, nil, fmt.Errorf("%w: project %s", ErrNotInitialized, addr)
	}
	return acct, project, nil
}

func (p *Processor) voterAccount(addr ids.ID) (*runtime.Account, *state.Voter, error) {
	acct, err := p.ledger.Account(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct.Owner != p.programID {
		return nil, nil, fmt.Errorf("%w: %s", ErrIncorrectProgramOwner, addr)
	}
	voter, err := state.UnpackVoter(acct.Data)
	if err != nil {
		return nil, nil, err
	}
	return acct, voter, nil
}

func (p *Processor) saveRound(acct *runtime.Account, round *state.Round) error {
	bytes, err := round.Pack()
	if err != nil {
		return err
	}
	acct.Data = bytes
	return p.ledger.PutAccount(acct)
}

func (p *Processor) saveProject(acct *runtime.Account, project *state.Project) error {
	bytes, err := project.Pack()
	if err != nil {
		return err
	}
	acct.Data = bytes
	return p.ledger.PutAccount(acct)
}

func (p *Processor) saveVoter(acct *runtime.Account, voter *state.Voter) error {
	bytes, err := voter.Pack()
	if err != nil {
		return err
	}
	acct.Data = bytes
	return p.ledger.PutAccount(acct)
}

func instructionName(ix instruction.Instruction) string {
	switch ix.(type) {
	case instruction.StartRound:
		return "StartRound"
	case instruction.Donate:
		return "Donate"
	case instruction.RegisterProject:
		return "RegisterProject"
	case instruction.InitVoter:
		return "InitVoter"
	case instruction.Vote:
		return "Vote"
	case instruction.Withdraw:
		return "Withdraw"
	case instruction.EndRound:
		return "EndRound"
	case instruction.WithdrawFee:
		return "WithdrawFee"
	case instruction.BanProject:
		return "BanProject"
	default:
		return "Unknown"
	}
}
