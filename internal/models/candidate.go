/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Candidate is a program picked for a tier together with its estimated duration.
// It is never persisted.
type Candidate struct {
	Program  Program
	Duration time.Duration
}

// NewCandidate builds a candidate, estimating the duration from the block's exposures.
func NewCandidate(p Program) Candidate {
	return Candidate{Program: p, Duration: p.ObsBlock.ExposureTime()}
}

// BlockPar returns the candidate's constraint set.
func (c *Candidate) BlockPar() BlockPar { return c.Program.BlockPar }

// Block returns the candidate's observation block.
func (c *Candidate) Block() ObsBlock { return c.Program.ObsBlock }

// Target returns the candidate's target.
func (c *Candidate) Target() Target { return c.Program.Target }

// Strategy returns the identifier of the scheduling strategy that owns the candidate.
func (c *Candidate) Strategy() string { return c.Program.BlockPar.SchedAlgorithm }
