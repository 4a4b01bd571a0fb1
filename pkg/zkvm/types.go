// Package zkvm drives the proof engine: zkVM execution and proving are
// consumed as black-box primitives (spec.md section 1 names the zkVM
// executor and Groth16 verifier libraries themselves as out of scope
// external collaborators); this package owns the orchestration across
// the three stages, the exit-code mapping, and the STARK-to-SNARK
// compression stage that shells out to the two vendored binaries.
package zkvm

import "fmt"

// ExecutionOutcome is the zkVM session's termination reason, the input
// to the exit-code mapping in spec.md section 4.6.
type ExecutionOutcome struct {
	Kind      OutcomeKind
	UserExit  uint32 // meaningful for Halted and Paused
}

type OutcomeKind int

const (
	OutcomeHalted OutcomeKind = iota
	OutcomePaused
	OutcomeSystemSplit
	OutcomeSessionLimit
)

// ExitCodes maps a session outcome to the (system, user) pair the
// status instruction reports, per the table in spec.md section 4.6.
func ExitCodes(o ExecutionOutcome) (system, user uint32) {
	switch o.Kind {
	case OutcomeHalted:
		return 0, o.UserExit
	case OutcomePaused:
		return 1, o.UserExit
	case OutcomeSystemSplit:
		return 2, 0
	case OutcomeSessionLimit:
		return 2, 2
	default:
		panic(fmt.Sprintf("zkvm: unhandled outcome kind %d", o.Kind))
	}
}

// Session is the result of stage 1 (Execute): black-box from this
// package's point of view, beyond the fields the later stages need.
type Session struct {
	Outcome ExecutionOutcome
	Journal []byte
	Handle  any // opaque handle the injected Prover understands
}

// SuccinctReceipt is the result of stage 2 (Prove & lift): a
// p254-hashed, identity-lifted single-segment receipt.
type SuccinctReceipt struct {
	SealBytes        []byte
	PostStateDigest  [32]byte
	AssumptionDigest [32]byte
	Journal          []byte
}

// Executor runs the zkVM session for stage 1. Consumed as a black box
// per spec.md section 1; the concrete implementation in this package,
// SubprocessRunner, shells out to a vendored executor binary.
type Executor interface {
	Execute(elf []byte, inputs [][]byte, assumptions [][]byte) (*Session, error)
}

// Prover drives stage 2 (prove, composite-to-succinct, identity-lift).
// Also a black box per spec.md section 1.
type Prover interface {
	ProveAndLift(session *Session) (*SuccinctReceipt, error)
}
