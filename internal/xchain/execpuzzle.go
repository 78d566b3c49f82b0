package xchain

import (
	"context"
	"fmt"
)

// UnimplementedPuzzleRunner is the PuzzleRunner a concrete deployment wires
// in place of a real CLVM evaluator. Running a puzzle reveal against a
// solution to recover its emitted conditions is explicitly out of this
// relay's scope (spec.md §1 "spend-program (on-chain puzzle) source" is
// named as something this relay treats as an external collaborator, not
// something it implements); a production binary is expected to replace
// this with a client for an actual evaluator (e.g. shelling out to `brun`,
// or calling into `clvm_rs` via cgo), wired through the same PuzzleRunner
// interface this stub satisfies only so `cmd/relay` links.
type UnimplementedPuzzleRunner struct{}

// Run always fails: see UnimplementedPuzzleRunner's doc comment.
func (UnimplementedPuzzleRunner) Run(ctx context.Context, puzzleReveal, solution []byte) ([]Condition, error) {
	return nil, fmt.Errorf("xchain: no CLVM evaluator configured (PuzzleRunner is an external collaborator, see spec §1)")
}
