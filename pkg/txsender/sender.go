package txsender

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/bonsol-network/prover-node/pkg/protocol"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
)

// Sender builds, signs, and submits the two outbound instructions the
// prover node ever issues.
type Sender struct {
	chain   *solclient.Client
	program solana.PublicKey
	signer  solana.PrivateKey
	tracker *Tracker
}

func NewSender(chain *solclient.Client, program solana.PublicKey, signer solana.PrivateKey, tracker *Tracker) *Sender {
	return &Sender{chain: chain, program: program, signer: signer, tracker: tracker}
}

func (s *Sender) signerFunc() func(key solana.PublicKey) *solana.PrivateKey {
	pub := s.signer.PublicKey()
	return func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.signer
		}
		return nil
	}
}

// Claim submits a claim transaction for execution_id, deriving the
// claim PDA from execution_account on both sides. spec.md section 4.5.
func (s *Sender) Claim(ctx context.Context, executionID []byte, requester, executionAccount solana.PublicKey, blockCommitment uint64) (solana.Signature, error) {
	claimPDA, _, err := solclient.DeriveClaimPDA(s.program, executionAccount)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBuildTransaction, err)
	}

	data := protocol.EncodeClaim(executionID, blockCommitment)
	ix := solana.NewInstruction(s.program, solana.AccountMetaSlice{
		solana.NewAccountMeta(s.signer.PublicKey(), true, true),
		solana.NewAccountMeta(claimPDA, true, false),
		solana.NewAccountMeta(executionAccount, false, false),
		solana.NewAccountMeta(requester, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)

	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBuildTransaction, err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(s.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBuildTransaction, err)
	}
	if _, err := tx.Sign(s.signerFunc()); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSignTransaction, err)
	}

	sig, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if s.tracker != nil {
		s.tracker.Track(sig, KindClaim, string(executionID))
	}
	return sig, nil
}

// SubmitProofRequest names the accounts and payload a status
// submission needs beyond what protocol.SubmitProofParams carries.
type SubmitProofRequest struct {
	Params           protocol.SubmitProofParams
	Requester        solana.PublicKey
	ExecutionAccount solana.PublicKey
	ExtraAccounts    []solana.PublicKey
	CallbackProgram  *solana.PublicKey
}

// SubmitProof submits a submit-status transaction carrying the
// Groth16 seal and exit codes. spec.md section 4.5.
func (s *Sender) SubmitProof(ctx context.Context, req SubmitProofRequest) (solana.Signature, error) {
	data := protocol.EncodeSubmitProof(req.Params)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(s.signer.PublicKey(), true, true),
		solana.NewAccountMeta(req.ExecutionAccount, true, false),
		solana.NewAccountMeta(req.Requester, false, false),
	}
	if req.CallbackProgram != nil {
		accounts = append(accounts, solana.NewAccountMeta(*req.CallbackProgram, false, false))
	}
	for _, acc := range req.ExtraAccounts {
		accounts = append(accounts, solana.NewAccountMeta(acc, false, false))
	}

	ix := solana.NewInstruction(s.program, accounts, data)

	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBuildTransaction, err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(s.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBuildTransaction, err)
	}
	if _, err := tx.Sign(s.signerFunc()); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSignTransaction, err)
	}

	sig, err := s.chain.SendTransactionConfirmed(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if s.tracker != nil {
		s.tracker.Track(sig, KindSubmit, string(req.Params.ExecutionID))
	}
	return sig, nil
}
