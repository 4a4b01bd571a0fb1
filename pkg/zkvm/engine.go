package zkvm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/bonsol-network/prover-node/pkg/logging"
	"github.com/bonsol-network/prover-node/pkg/metrics"
)

// Engine runs the three-stage proof pipeline described in spec.md
// section 4.6: Execute, Prove & lift, Compress.
type Engine struct {
	executor   Executor
	prover     Prover
	compressor *Compressor
	metrics    *metrics.Registry
	logger     cmtlog.Logger
}

func NewEngine(executor Executor, prover Prover, compressor *Compressor, reg *metrics.Registry, logger cmtlog.Logger) *Engine {
	return &Engine{executor: executor, prover: prover, compressor: compressor, metrics: reg, logger: logger}
}

// Result is everything the runner needs to build a submit-status
// transaction.
type Result struct {
	Seal             [256]byte
	ExecutionDigest  [32]byte
	InputDigest      [32]byte
	AssumptionDigest [32]byte
	CommittedOutputs []byte
	ExitSystem       uint32
	ExitUser         uint32
}

// Run drives all three stages for one execution's resolved inputs.
// Stage 1-2 are CPU bound and expected to be invoked from a bounded
// worker goroutine by the caller (spec.md section 5: "heavy CPU work
// ... is off-loaded via a dedicated blocking-task pool").
func (e *Engine) Run(ctx context.Context, executionID string, elf []byte, inputs, assumptions [][]byte) (*Result, error) {
	log := logging.Execution(e.logger, executionID)

	start := time.Now()
	execLog := logging.Stage(log, "execute")
	execLog.Info("starting zkvm execution")
	session, err := e.executor.Execute(elf, inputs, assumptions)
	if err != nil {
		return nil, fmt.Errorf("zkvm execute: %w", err)
	}
	execLog.Info("zkvm execution finished", "outcome", session.Outcome.Kind)

	proveLog := logging.Stage(log, "prove_and_lift")
	proveLog.Info("proving and lifting session")
	receipt, err := e.prover.ProveAndLift(session)
	if err != nil {
		return nil, fmt.Errorf("prove and lift: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ProofGenerationDuration.Observe(time.Since(start).Seconds())
	}

	compressLog := logging.Stage(log, "compress")
	compressStart := time.Now()
	compressLog.Info("compressing receipt to groth16 seal")
	seal, err := e.compressor.Compress(ctx, receipt.SealBytes)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ProofCompressionDuration.Observe(time.Since(compressStart).Seconds())
	}

	system, user := ExitCodes(session.Outcome)
	inputDigest := sha256.Sum256(concat(inputs))

	return &Result{
		Seal:             seal,
		ExecutionDigest:  receipt.PostStateDigest,
		InputDigest:      inputDigest,
		AssumptionDigest: receipt.AssumptionDigest,
		CommittedOutputs: receipt.Journal,
		ExitSystem:       system,
		ExitUser:         user,
	}, nil
}

func concat(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
