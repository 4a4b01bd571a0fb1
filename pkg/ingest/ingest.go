// Package ingest produces a restartable stream of protocol
// instructions observed on the settlement chain, filtered to those
// touching the configured program. Two interchangeable sources are
// provided: block-subscription and streaming-subscription.
//
// Both hold one long-lived subscription or stream, push each decoded
// instruction onto a buffered output channel, and reconnect with capped
// exponential backoff (starting at initialBackoff, giving up after
// maxRetries consecutive failures).
package ingest

import (
	"context"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/bonsol-network/prover-node/pkg/protocol"
)

const (
	initialBackoff = 5 * time.Second
	maxRetries     = 10
)

// Source is the capability every ingester realisation implements.
// spec.md section 4.1: "start(program_pubkey) -> stream; stop()."
type Source interface {
	Start(ctx context.Context, program solana.PublicKey) (<-chan protocol.ProtocolInstruction, error)
	Stop()
}

// BlockSubscription ingests by subscribing to confirmed block
// notifications over the chain's websocket RPC and scanning each
// block's transactions for instructions touching the program.
type BlockSubscription struct {
	wssURL string
	logger cmtlog.Logger

	cancel context.CancelFunc
}

// NewBlockSubscription builds a block-subscription ingester against
// the given websocket RPC endpoint.
func NewBlockSubscription(wssURL string, logger cmtlog.Logger) *BlockSubscription {
	return &BlockSubscription{wssURL: wssURL, logger: logger}
}

func (b *BlockSubscription) Start(ctx context.Context, program solana.PublicKey) (<-chan protocol.ProtocolInstruction, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	out := make(chan protocol.ProtocolInstruction, 256)
	go b.run(ctx, program, out)
	return out, nil
}

func (b *BlockSubscription) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *BlockSubscription) run(ctx context.Context, program solana.PublicKey, out chan<- protocol.ProtocolInstruction) {
	defer close(out)

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.subscribeOnce(ctx, program, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			if retries >= maxRetries {
				b.logger.Error("block subscription exhausted retries, giving up", "err", err)
				return
			}
			backoff := capBackoff(initialBackoff, retries)
			b.logger.Error("block subscription failed, reconnecting", "err", err, "backoff", backoff, "attempt", retries+1)
			retries++
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		retries = 0
	}
}

func (b *BlockSubscription) subscribeOnce(ctx context.Context, program solana.PublicKey, out chan<- protocol.ProtocolInstruction) error {
	wsClient, err := ws.Connect(ctx, b.wssURL)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	sub, err := wsClient.BlockSubscribe(
		ws.NewBlockSubscribeFilterMentionsAccountOrProgram(program),
		&ws.BlockSubscribeOpts{
			Commitment:         rpc.CommitmentConfirmed,
			TransactionDetails: rpc.TransactionDetailsFull,
		},
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if got == nil || got.Value.Block == nil {
			continue
		}
		emitBlockInstructions(got.Value.Block, program, out)
	}
}

// emitBlockInstructions walks every transaction in the block, skipping
// failed transactions entirely and flagging CPI instructions, per
// spec.md section 4.1's tie-break rules.
func emitBlockInstructions(block *rpc.Block, program solana.PublicKey, out chan<- protocol.ProtocolInstruction) {
	lastBlock := block.ParentSlot + 1
	for _, txWithMeta := range block.Transactions {
		if txWithMeta.Meta != nil && txWithMeta.Meta.Err != nil {
			continue
		}
		tx, err := txWithMeta.GetTransaction()
		if err != nil || tx == nil {
			continue
		}
		accounts := tx.Message.AccountKeys

		for _, ix := range tx.Message.Instructions {
			if int(ix.ProgramIDIndex) >= len(accounts) || accounts[ix.ProgramIDIndex] != program {
				continue
			}
			out <- protocol.ProtocolInstruction{
				CPI:            false,
				Accounts:       toPubkeys(ix.Accounts, accounts),
				Data:           []byte(ix.Data),
				LastKnownBlock: lastBlock,
			}
		}
		if txWithMeta.Meta == nil {
			continue
		}
		for _, inner := range txWithMeta.Meta.InnerInstructions {
			for _, ix := range inner.Instructions {
				if int(ix.ProgramIDIndex) >= len(accounts) || accounts[ix.ProgramIDIndex] != program {
					continue
				}
				out <- protocol.ProtocolInstruction{
					CPI:            true,
					Accounts:       toPubkeys(ix.Accounts, accounts),
					Data:           []byte(ix.Data),
					LastKnownBlock: lastBlock,
				}
			}
		}
	}
}

func toPubkeys(indices []uint16, accounts []solana.PublicKey) []protocol.Pubkey {
	out := make([]protocol.Pubkey, 0, len(indices))
	for _, idx := range indices {
		if int(idx) >= len(accounts) {
			continue
		}
		out = append(out, protocol.Pubkey(accounts[idx]))
	}
	return out
}

func capBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
