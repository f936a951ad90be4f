// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics counts processed instructions.
package metrics

import (
	"github.com/luxfi/metric"
)

const instructionLabel = "instruction"

var instructionLabels = []string{instructionLabel}

// Metrics tracks instruction outcomes, labeled per instruction kind.
type Metrics struct {
	numProcessed metric.CounterVec
	numFailed    metric.CounterVec
}

// New registers and returns the instruction metrics.
func New(registerer metric.Registerer) (*Metrics, error) {
	m := &Metrics{
		numProcessed: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "instructions_processed",
				Help: "number of instructions processed successfully",
			},
			instructionLabels,
		),
		numFailed: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "instructions_failed",
				Help: "number of instructions aborted with an error",
			},
			instructionLabels,
		),
	}
	return m, nil
}

// MarkProcessed records a successful instruction.
func (m *Metrics) MarkProcessed(instruction string) {
	if m == nil {
		return
	}
	m.numProcessed.With(metric.Labels{
		instructionLabel: instruction,
	}).Inc()
}

// MarkFailed records an aborted instruction.
func (m *Metrics) MarkFailed(instruction string) {
	if m == nil {
		return
	}
	m.numFailed.With(metric.Labels{
		instructionLabel: instruction,
	}).Inc()
}
