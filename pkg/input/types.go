// Package input resolves an execution request's declared inputs into
// concrete byte blobs: public inputs eagerly and in parallel, private
// inputs only after a claim is won.
package input

import "github.com/bonsol-network/prover-node/pkg/protocol"

// ProgramInputState is the ProgramInput sum type from spec.md section 3:
// "Empty | Unresolved{index,url,type} | Resolved{index,bytes,type}".
type ProgramInputState int

const (
	ProgramInputEmpty ProgramInputState = iota
	ProgramInputUnresolved
	ProgramInputResolved
)

// ProgramInput is one slot of an execution's input vector as it moves
// through the staging area.
type ProgramInput struct {
	Index int
	State ProgramInputState
	Type  protocol.InputKind

	// Unresolved
	URL string

	// Resolved / inline PublicData
	Bytes []byte
}
