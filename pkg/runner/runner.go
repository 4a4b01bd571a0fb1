package runner

import (
	"context"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bonsol-network/prover-node/pkg/config"
	"github.com/bonsol-network/prover-node/pkg/image"
	"github.com/bonsol-network/prover-node/pkg/input"
	"github.com/bonsol-network/prover-node/pkg/logging"
	"github.com/bonsol-network/prover-node/pkg/metrics"
	"github.com/bonsol-network/prover-node/pkg/protocol"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
	"github.com/bonsol-network/prover-node/pkg/txsender"
	"github.com/bonsol-network/prover-node/pkg/zkvm"
)

const requiredProverVersion = "v1"

// Runner is the dispatcher plus state machine described in spec.md
// section 4.7.
type Runner struct {
	cfg    *config.Config
	logger cmtlog.Logger

	chain    *solclient.Client
	cache    *image.Cache
	resolver *input.Resolver
	sender   *txsender.Sender
	tracker  *txsender.Tracker
	engine   *zkvm.Engine
	metrics  *metrics.Registry

	self solana.PublicKey

	inflight *inflightMap
	staging  *stagingArea

	proofSlots *semaphore.Weighted
}

type Deps struct {
	Config   *config.Config
	Logger   cmtlog.Logger
	Chain    *solclient.Client
	Cache    *image.Cache
	Resolver *input.Resolver
	Sender   *txsender.Sender
	Tracker  *txsender.Tracker
	Engine   *zkvm.Engine
	Metrics  *metrics.Registry
	Self     solana.PublicKey
}

func New(d Deps) *Runner {
	maxProofs := int64(d.Config.MaximumConcurrentProofs)
	if maxProofs <= 0 {
		maxProofs = 1
	}
	return &Runner{
		cfg:        d.Config,
		logger:     d.Logger,
		chain:      d.Chain,
		cache:      d.Cache,
		resolver:   d.Resolver,
		sender:     d.Sender,
		tracker:    d.Tracker,
		engine:     d.Engine,
		metrics:    d.Metrics,
		self:       d.Self,
		inflight:   newInflightMap(),
		staging:    newStagingArea(),
		proofSlots: semaphore.NewWeighted(maxProofs),
	}
}

// Run starts the tracker's poll loop, the outcome consumer, and the
// expiry reaper, and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.tracker.Start(ctx)
	go r.consumeOutcomes(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.tracker.Stop()
			return
		case <-ticker.C:
			r.reapExpired(ctx)
			r.cache.EvictIdle(time.Now())
		}
	}
}

// Dispatch decodes one ingested instruction and routes it. Each
// instruction is dispatched as its own goroutine by the caller; no
// inter-instruction ordering is guaranteed beyond the ingest stream's
// monotonic last_known_block, per spec.md section 4.7 "Ordering."
func (r *Runner) Dispatch(ctx context.Context, instr protocol.ProtocolInstruction) {
	msg, err := protocol.ParseInstruction(instr.Data)
	if err != nil {
		r.logger.Error("dropping malformed instruction", "err", err, "cpi", instr.CPI)
		return
	}

	switch msg.Discriminator {
	case protocol.DiscriminatorDeploy:
		r.handleDeploy(ctx, msg.Deploy)
	case protocol.DiscriminatorExecute:
		executionAccount := firstAccount(instr.Accounts)
		r.claimDecision(ctx, msg.Execute, executionAccount)
	case protocol.DiscriminatorClaim:
		r.claimArbitration(ctx, msg.Claim)
	case protocol.DiscriminatorStatus:
		// No action: our own or another prover's submission. The
		// settlement program handles finalisation.
	}
}

func firstAccount(accounts []protocol.Pubkey) solana.PublicKey {
	if len(accounts) == 0 {
		return solana.PublicKey{}
	}
	return solana.PublicKey(accounts[0])
}

func (r *Runner) handleDeploy(ctx context.Context, d *protocol.DeployV1) {
	r.cache.RegisterDeployment(d)
	if r.metrics != nil {
		r.metrics.ImageDeployment.Inc()
	}
	go func() {
		if _, err := r.cache.Ensure(ctx, d.ImageID); err != nil {
			r.logger.Error("deploy image fetch failed", "image_id", d.ImageID, "err", err)
		}
	}()
}

// claimDecision implements spec.md section 4.7's numbered decision
// sequence.
func (r *Runner) claimDecision(ctx context.Context, e *protocol.ExecuteV1, executionAccount solana.PublicKey) {
	log := logging.Execution(r.logger, string(e.ExecutionID))

	if r.metrics != nil {
		r.metrics.ExecutionRequest.Inc()
	}

	if e.ProverVersion != requiredProverVersion {
		if r.metrics != nil {
			r.metrics.IncompatibleProverVersion.Inc()
		}
		log.Debug("skipping execute: incompatible prover version", "got", e.ProverVersion, "want", requiredProverVersion)
		return
	}

	if r.inflight.len() >= r.cfg.MaximumConcurrentProofs {
		log.Debug("skipping execute: at capacity")
		return
	}

	img, ok := r.ensureImage(ctx, e.ImageID)
	if !ok {
		log.Debug("skipping execute: image unavailable")
		return
	}

	computableBy := e.MaxBlockHeight / 2
	if computableBy >= e.MaxBlockHeight {
		log.Debug("skipping execute: cannot finish by the deadline", "computable_by", computableBy, "expiry", e.MaxBlockHeight)
		return
	}

	resolved, err := r.resolver.ResolvePublic(ctx, e.Inputs)
	if err != nil {
		log.Error("skipping execute: public input resolution failed", "err", err)
		return
	}
	eid := string(e.ExecutionID)
	r.staging.put(eid, resolved)

	requester := solana.PublicKey(e.Requester)
	sig, err := r.sender.Claim(ctx, e.ExecutionID, requester, executionAccount, computableBy)
	if err != nil {
		r.staging.remove(eid)
		log.Error("claim transaction failed", "err", err)
		return
	}

	var callback *Callback
	if e.CallbackProgramID != nil {
		callback = &Callback{ProgramID: solana.PublicKey(*e.CallbackProgramID), InstructionPrefix: e.CallbackInstructionPrefix}
	}
	extra := make([]solana.PublicKey, 0, len(e.ExtraAccounts))
	for _, a := range e.ExtraAccounts {
		extra = append(extra, solana.PublicKey(a))
	}

	attemptID := uuid.New()
	r.inflight.store(eid, &InflightProof{
		AttemptID:        attemptID,
		ExecutionID:      e.ExecutionID,
		ImageID:          img.ID,
		ExecutionAccount: executionAccount,
		Requester:        requester,
		Status:           StatusClaiming,
		ClaimSig:         sig,
		Expiry:           e.MaxBlockHeight,
		Callback:         callback,
		ExtraAccounts:    extra,
		VerifyInputHash:  e.VerifyInputHash,
		InputDigest:      e.InputDigest,
	})
	if r.metrics != nil {
		r.metrics.ClaimAttempt.Inc()
	}
	log.Info("claim submitted", "signature", sig, "block_commitment", computableBy, "attempt_id", attemptID)
}

// ensureImage applies missing_image_strategy. The boolean result tells
// the caller whether it is safe to proceed with a claim.
func (r *Runner) ensureImage(ctx context.Context, id protocol.ImageID) (*image.Image, bool) {
	if r.cache.Has(id) {
		img, err := r.cache.Ensure(ctx, id)
		return img, err == nil
	}

	switch r.cfg.MissingImageStrategy {
	case config.StrategyFail:
		return nil, false
	case config.StrategyDownloadAndMiss:
		go func() {
			if _, err := r.cache.Ensure(context.Background(), id); err != nil {
				r.logger.Error("warm fetch failed", "image_id", id, "err", err)
			}
		}()
		return nil, false
	default: // StrategyDownloadAndClaim
		img, err := r.cache.Ensure(ctx, id)
		if err != nil {
			return nil, false
		}
		return img, true
	}
}

// claimArbitration implements spec.md section 4.7's win/lose branches.
func (r *Runner) claimArbitration(ctx context.Context, c *protocol.ClaimV1) {
	eid := string(c.ExecutionID)
	log := logging.Execution(r.logger, eid)

	if solana.PublicKey(c.Claimer) != r.self {
		if _, ok := r.inflight.get(eid); ok {
			r.inflight.delete(eid)
			r.staging.remove(eid)
			if r.metrics != nil {
				r.metrics.ClaimMissed.Inc()
			}
			log.Info("lost claim race", "claimer", c.Claimer)
		}
		return
	}

	proof, ok := r.inflight.get(eid)
	if !ok {
		return
	}
	if proof.Status != StatusClaiming {
		return
	}

	go r.prove(ctx, eid, proof, log)
}

func (r *Runner) prove(ctx context.Context, eid string, proof *InflightProof, log cmtlog.Logger) {
	log = log.With("attempt_id", proof.AttemptID)

	if err := r.proofSlots.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.proofSlots.Release(1)

	staged, ok := r.staging.get(eid)
	if !ok {
		log.Error("no staged inputs for won claim")
		return
	}

	if err := r.resolver.ResolvePrivate(ctx, proof.ExecutionID, staged); err != nil {
		log.Error("private input resolution failed, abandoning", "err", err)
		r.staging.remove(eid)
		return
	}

	if proof.VerifyInputHash && proof.InputDigest != nil {
		if !input.VerifyInputDigest(staged, *proof.InputDigest) {
			log.Error("resolved input digest mismatch, abandoning")
			r.staging.remove(eid)
			return
		}
	}

	img, err := r.cache.Ensure(ctx, proof.ImageID)
	if err != nil {
		log.Error("image unavailable at proving time, abandoning", "err", err)
		return
	}

	if err := input.ValidateResolved(staged, len(img.InputTypes)); err != nil {
		log.Error("resolved input vector violates declared arity, abandoning", "err", err)
		r.staging.remove(eid)
		return
	}

	var inputs [][]byte
	var assumptions [][]byte
	for _, in := range staged {
		if in.Type == protocol.InputKindPublicProof {
			assumptions = append(assumptions, in.Bytes)
			continue
		}
		inputs = append(inputs, in.Bytes)
	}

	result, err := r.engine.Run(ctx, eid, img.Bytes, inputs, assumptions)
	if err != nil {
		log.Error("proof engine failed, request will expire", "err", err)
		if r.metrics != nil {
			r.metrics.ProvingFailed.Inc()
		}
		r.staging.remove(eid)
		return
	}
	if r.metrics != nil {
		r.metrics.ProvingSucceeded.Inc()
	}
	r.staging.remove(eid)

	var callbackProgram *solana.PublicKey
	if proof.Callback != nil {
		callbackProgram = &proof.Callback.ProgramID
	}

	sig, err := r.sender.SubmitProof(ctx, submitRequest(eid, proof, result, callbackProgram))
	if err != nil {
		log.Error("submit proof transaction failed", "err", err)
		return
	}

	proof.Status = StatusSubmitted
	proof.SubmitSig = sig
	proof.HasSubmitSig = true
	log.Info("proof submitted", "signature", sig, "exit_system", result.ExitSystem, "exit_user", result.ExitUser)
}

func (r *Runner) reapExpired(ctx context.Context) {
	currentBlock, err := r.chain.CurrentBlock(ctx)
	if err != nil {
		r.logger.Error("reaper: read current block failed", "err", err)
		return
	}
	for eid, proof := range r.inflight.snapshot() {
		if proof.Expiry < currentBlock {
			r.inflight.delete(eid)
			r.staging.remove(eid)
			r.tracker.Untrack(proof.ClaimSig)
			if proof.HasSubmitSig {
				r.tracker.Untrack(proof.SubmitSig)
			}
			if r.metrics != nil {
				r.metrics.ProofExpired.Inc()
			}
			r.logger.Info("reaped expired proof", "execution_id", eid, "expiry", proof.Expiry, "current_block", currentBlock)
		}
	}
}

// consumeOutcomes drains the transaction tracker's terminal signature
// outcomes and retires the corresponding InflightProof, per spec.md
// section 4.7's reaper responsibilities for confirmed-error and
// confirmed-terminal signatures.
func (r *Runner) consumeOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-r.tracker.Outcomes():
			if !ok {
				return
			}
			r.handleOutcome(outcome)
		}
	}
}

func (r *Runner) handleOutcome(o txsender.Outcome) {
	switch o.Kind {
	case txsender.KindClaim:
		if o.Err != nil || o.Expired {
			r.inflight.delete(o.ExecutionID)
			r.staging.remove(o.ExecutionID)
			if o.Err != nil && r.metrics != nil {
				r.metrics.ClaimMissed.Inc()
			}
		}
	case txsender.KindSubmit:
		r.inflight.delete(o.ExecutionID)
		if o.Err != nil && r.metrics != nil {
			r.metrics.ProofSubmissionError.Inc()
		}
	}
}

func submitRequest(eid string, proof *InflightProof, result *zkvm.Result, callbackProgram *solana.PublicKey) txsender.SubmitProofRequest {
	return txsender.SubmitProofRequest{
		Params: buildSubmitParams(proof, result),
		Requester:        proof.Requester,
		ExecutionAccount: proof.ExecutionAccount,
		ExtraAccounts:    proof.ExtraAccounts,
		CallbackProgram:  callbackProgram,
	}
}

func buildSubmitParams(proof *InflightProof, result *zkvm.Result) protocol.SubmitProofParams {
	return protocol.SubmitProofParams{
		ExecutionID:      proof.ExecutionID,
		Proof:            result.Seal,
		ExecutionDigest:  result.ExecutionDigest,
		InputDigest:      result.InputDigest,
		AssumptionDigest: result.AssumptionDigest,
		CommittedOutputs: result.CommittedOutputs,
		ExitCodeSystem:   result.ExitSystem,
		ExitCodeUser:     result.ExitUser,
	}
}
