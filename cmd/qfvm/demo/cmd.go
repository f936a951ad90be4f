// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package demo runs a complete funding round against an in-memory
// ledger: a seeded matching pool, two projects, a handful of
// contributors, and the capped withdrawals at the end.
package demo

import (
	"fmt"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/quadfund/qfvm/instruction"
	"github.com/quadfund/qfvm/metrics"
	"github.com/quadfund/qfvm/processor"
	"github.com/quadfund/qfvm/runtime"
	"github.com/quadfund/qfvm/state"
)

const decimals uint8 = 6

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "demo",
		Short: "Runs a full funding round in memory",
		RunE:  demoFunc,
	}
	flags := c.Flags()
	flags.Uint8("ratio", 2, "anti-whale cap ratio")
	flags.Uint64("fund", 1000, "matching pool seeded into the vault")
	return c
}

func demoFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	ratio, err := flags.GetUint8("ratio")
	if err != nil {
		return err
	}
	fund, err := flags.GetUint64("fund")
	if err != nil {
		return err
	}

	logger := log.NewLogger("qfvm")
	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	d := &demoRound{
		programID: ids.GenerateTestID(),
		ledger:    runtime.NewLedger(memdb.New()),
		owner:     ids.GenerateTestID(),
		funder:    ids.GenerateTestID(),
		mint:      ids.GenerateTestID(),
		vault:     ids.GenerateTestID(),
		round:     ids.GenerateTestID(),
		log:       logger,
	}
	d.p = processor.New(d.programID, d.ledger, logger, m)

	if err := d.setup(fund); err != nil {
		return err
	}
	if err := d.run(ratio); err != nil {
		return err
	}
	return nil
}

type demoRound struct {
	programID ids.ID
	ledger    *runtime.Ledger
	p         *processor.Processor
	log       log.Logger

	owner  ids.ID
	funder ids.ID
	mint   ids.ID
	vault  ids.ID
	round  ids.ID
}

// setup seeds the mint, the vault under the round's derived authority,
// a funder for voter records, and the empty round record.
func (d *demoRound) setup(fund uint64) error {
	if err := d.ledger.CreateMint(d.mint, decimals); err != nil {
		return err
	}
	vaultAuth := runtime.Derive(d.programID, d.owner[:])
	if err := d.ledger.CreateTokenAccount(d.vault, d.mint, vaultAuth); err != nil {
		return err
	}
	if err := d.ledger.MintTo(d.vault, fund); err != nil {
		return err
	}
	if err := d.ledger.PutAccount(&runtime.Account{
		Address: d.funder,
		Balance: 1 << 40,
	}); err != nil {
		return err
	}
	if err := d.newRecord(d.round, state.RoundLen); err != nil {
		return err
	}
	return d.ledger.Commit()
}

func (d *demoRound) newRecord(addr ids.ID, size int) error {
	return d.ledger.PutAccount(&runtime.Account{
		Address: addr,
		Owner:   d.programID,
		Balance: d.ledger.Rent().MinimumBalance(size),
		Data:    make([]byte, size),
	})
}

func (d *demoRound) run(ratio uint8) error {
	if err := d.p.Process(
		instruction.StartRound{Ratio: ratio}.Pack(),
		[]runtime.AccountMeta{
			{Address: d.round},
			{Address: d.owner, Signer: true},
			{Address: d.vault},
		},
	); err != nil {
		return err
	}
	d.log.Info("round started", "round", d.round, "ratio", ratio)

	projectA, ownerA, err := d.registerProject()
	if err != nil {
		return err
	}
	projectB, ownerB, err := d.registerProject()
	if err != nil {
		return err
	}

	// A small community backs project A; one large backer funds B.
	for _, amount := range []uint64{30, 25, 45} {
		if err := d.voteOnce(projectA, amount); err != nil {
			return err
		}
	}
	if err := d.voteOnce(projectB, 400); err != nil {
		return err
	}

	if err := d.p.Process(
		instruction.EndRound{}.Pack(),
		[]runtime.AccountMeta{
			{Address: d.round},
			{Address: d.owner, Signer: true},
		},
	); err != nil {
		return err
	}
	d.log.Info("round ended")

	payoutA, err := d.withdraw(projectA, ownerA)
	if err != nil {
		return err
	}
	payoutB, err := d.withdraw(projectB, ownerB)
	if err != nil {
		return err
	}
	fee, err := d.withdrawFee()
	if err != nil {
		return err
	}

	d.log.Info("round settled",
		"projectA", payoutA,
		"projectB", payoutB,
		"fee", fee,
	)
	fmt.Printf("project A payout: %d\nproject B payout: %d\nplatform fee: %d\n", payoutA, payoutB, fee)
	return nil
}

func (d *demoRound) registerProject() (ids.ID, ids.ID, error) {
	addr := ids.GenerateTestID()
	owner := ids.GenerateTestID()
	if err := d.newRecord(addr, state.ProjectLen); err != nil {
		return ids.Empty, ids.Empty, err
	}
	if err := d.ledger.Commit(); err != nil {
		return ids.Empty, ids.Empty, err
	}
	err := d.p.Process(
		instruction.RegisterProject{}.Pack(),
		[]runtime.AccountMeta{
			{Address: addr},
			{Address: d.round},
			{Address: owner, Signer: true},
		},
	)
	return addr, owner, err
}

// voteOnce creates a fresh contributor with exactly amount tokens and
// votes it all on project.
func (d *demoRound) voteOnce(project ids.ID, amount uint64) error {
	owner := ids.GenerateTestID()
	tokenAcct := ids.GenerateTestID()
	if err := d.ledger.CreateTokenAccount(tokenAcct, d.mint, owner); err != nil {
		return err
	}
	if err := d.ledger.MintTo(tokenAcct, amount); err != nil {
		return err
	}
	if err := d.ledger.Commit(); err != nil {
		return err
	}

	voter := runtime.Derive(d.programID, project[:], tokenAcct[:])
	if err := d.p.Process(
		instruction.InitVoter{}.Pack(),
		[]runtime.AccountMeta{
			{Address: voter},
			{Address: tokenAcct},
			{Address: project},
			{Address: d.funder},
		},
	); err != nil {
		return err
	}

	err := d.p.Process(
		instruction.Vote{Amount: amount, Decimals: decimals}.Pack(),
		[]runtime.AccountMeta{
			{Address: d.round},
			{Address: project},
			{Address: voter},
			{Address: tokenAcct},
			{Address: d.mint},
			{Address: d.vault},
			{Address: owner, Signer: true},
		},
	)
	if err == nil {
		d.log.Info("vote cast", "project", project, "amount", amount)
	}
	return err
}

func (d *demoRound) withdraw(project, owner ids.ID) (uint64, error) {
	dest := ids.GenerateTestID()
	if err := d.ledger.CreateTokenAccount(dest, d.mint, owner); err != nil {
		return 0, err
	}
	if err := d.ledger.Commit(); err != nil {
		return 0, err
	}

	vaultAuth := runtime.Derive(d.programID, d.owner[:])
	if err := d.p.Process(
		instruction.Withdraw{}.Pack(),
		[]runtime.AccountMeta{
			{Address: d.round},
			{Address: d.vault},
			{Address: vaultAuth},
			{Address: project},
			{Address: owner, Signer: true},
			{Address: dest},
		},
	); err != nil {
		return 0, err
	}
	acct, err := d.ledger.TokenAccount(dest)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

func (d *demoRound) withdrawFee() (uint64, error) {
	dest := ids.GenerateTestID()
	if err := d.ledger.CreateTokenAccount(dest, d.mint, d.owner); err != nil {
		return 0, err
	}
	if err := d.ledger.Commit(); err != nil {
		return 0, err
	}

	vaultAuth := runtime.Derive(d.programID, d.owner[:])
	if err := d.p.Process(
		instruction.WithdrawFee{}.Pack(),
		[]runtime.AccountMeta{
			{Address: d.round},
			{Address: d.owner, Signer: true},
			{Address: d.vault},
			{Address: vaultAuth},
			{Address: dest},
		},
	); err != nil {
		return 0, err
	}
	acct, err := d.ledger.TokenAccount(dest)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}
