// Package solana wraps the settlement chain's RPC and websocket surfaces
// behind the small set of operations the rest of the prover node needs:
// reading the current slot, deriving claim PDAs, signing and submitting
// transactions, and polling signature statuses.
//
// Since this prover node speaks to exactly one settlement chain, this
// is a concrete client rather than an interface with interchangeable
// chain backends.
package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client is a thin wrapper around the RPC client plus a small amount
// of slot caching (get_current_block capped at <=1Hz).
type Client struct {
	rpc *rpc.Client

	slotCacheTTL time.Duration
	slotCache    cachedSlot
}

type cachedSlot struct {
	slot    uint64
	fetched time.Time
}

// NewClient builds a client against the given JSON-RPC HTTP endpoint.
func NewClient(rpcURL string) *Client {
	return &Client{
		rpc:          rpc.New(rpcURL),
		slotCacheTTL: time.Second,
	}
}

// CurrentBlock returns the latest confirmed slot, refreshed at most
// once per slotCacheTTL. spec.md section 4.5: "get_current_block()
// exposes a cached latest-confirmed slot refreshed at <=1 Hz."
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	if time.Since(c.slotCache.fetched) < c.slotCacheTTL && c.slotCache.fetched != (time.Time{}) {
		return c.slotCache.slot, nil
	}
	slot, err := c.rpc.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get current slot: %w", err)
	}
	c.slotCache = cachedSlot{slot: slot, fetched: time.Now()}
	return slot, nil
}

// LatestBlockhash fetches a fresh recent blockhash for transaction
// construction.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// AccountData fetches the raw data of an on-chain account, used for
// PublicAccountData inputs and for reading the account behind an
// InputSet input.
func (c *Client) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	out, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get account info %s: %w", account, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("account %s not found", account)
	}
	return out.Value.Data.GetBinary(), nil
}

// SendTransaction submits a fully signed transaction, skipping
// preflight per spec.md section 4.5 ("submits skipping preflight").
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// SendTransactionConfirmed submits a fully signed transaction with
// preflight checks enabled at "confirmed" commitment, the submission
// mode spec.md section 4.5 calls for on submit_proof (as opposed to
// claim's skip-preflight submission).
func (c *Client) SendTransactionConfirmed(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus is the tri-state outcome a tracked signature can be
// in, per spec.md section 4.5.
type SignatureStatus int

const (
	SignatureProcessing SignatureStatus = iota
	SignatureConfirmed
	SignatureNotFound
)

// StatusResult reports one polled signature's state and, if confirmed,
// whether the settlement program rejected it.
type StatusResult struct {
	Status SignatureStatus
	Err    error // non-nil only when Status == SignatureConfirmed and the tx failed on-chain
}

// GetSignatureStatuses polls a batch of signatures in one RPC call, the
// same batching shape the sender's confirmation loop relies on to stay
// under 1 Hz regardless of how many signatures are tracked.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs []solana.Signature) (map[solana.Signature]StatusResult, error) {
	if len(sigs) == 0 {
		return nil, nil
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	results := make(map[solana.Signature]StatusResult, len(sigs))
	for i, sig := range sigs {
		if i >= len(out.Value) || out.Value[i] == nil {
			results[sig] = StatusResult{Status: SignatureNotFound}
			continue
		}
		st := out.Value[i]
		if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			var txErr error
			if st.Err != nil {
				txErr = fmt.Errorf("%v", st.Err)
			}
			results[sig] = StatusResult{Status: SignatureConfirmed, Err: txErr}
			continue
		}
		results[sig] = StatusResult{Status: SignatureProcessing}
	}
	return results, nil
}

// RawRPC exposes the underlying client for ingestion code that needs
// block-level reads the narrow interface above doesn't cover.
func (c *Client) RawRPC() *rpc.Client { return c.rpc }
