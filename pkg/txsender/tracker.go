// Package txsender builds, signs, and submits the two outbound
// on-chain instructions (claim and submit-status), and tracks their
// confirmation status.
//
// The tracker's poll loop uses a mutex-guarded map, a ticker-driven
// run loop started/stopped explicitly, and the concrete chain client
// for batched signature status reads.
package txsender

import (
	"context"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"

	"github.com/bonsol-network/prover-node/pkg/metrics"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
)

// Kind distinguishes a tracked signature's role so the reaper can
// react differently to a confirmed-error claim versus a confirmed-error
// submission.
type Kind int

const (
	KindClaim Kind = iota
	KindSubmit
)

type trackedEntry struct {
	kind Kind
	eid  string
}

// Outcome is delivered once a tracked signature reaches a terminal
// state: confirmed (success or error) or expired (NotFound for too
// long).
type Outcome struct {
	Signature solana.Signature
	Kind      Kind
	ExecutionID string
	Err       error // non-nil on confirmed-error
	Expired   bool
}

// Tracker polls a set of in-flight signatures at 1-second intervals,
// per spec.md section 4.5 ("A background loop polls each tracked
// signature at 1-second intervals").
type Tracker struct {
	chain   *solclient.Client
	metrics *metrics.Registry
	logger  cmtlog.Logger

	notFoundLimit int

	mu       sync.Mutex
	tracked  map[solana.Signature]trackedEntry
	notFound map[solana.Signature]int

	outcomes chan Outcome
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewTracker(chain *solclient.Client, reg *metrics.Registry, logger cmtlog.Logger) *Tracker {
	return &Tracker{
		chain:         chain,
		metrics:       reg,
		logger:        logger,
		notFoundLimit: 30,
		tracked:       make(map[solana.Signature]trackedEntry),
		notFound:      make(map[solana.Signature]int),
		outcomes:      make(chan Outcome, 64),
	}
}

// Outcomes returns the channel terminal signature outcomes are
// delivered on. The runner's reaper loop drains it.
func (t *Tracker) Outcomes() <-chan Outcome { return t.outcomes }

// Track begins polling a newly submitted signature.
func (t *Tracker) Track(sig solana.Signature, kind Kind, executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked[sig] = trackedEntry{kind: kind, eid: executionID}
	if t.metrics != nil {
		t.metrics.SignaturesInFlight.Inc()
	}
}

// Untrack removes a signature without emitting an outcome, used when
// the runner has already concluded the associated execution some other
// way (for example, expiry).
func (t *Tracker) Untrack(sig solana.Signature) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tracked[sig]; ok {
		delete(t.tracked, sig)
		delete(t.notFound, sig)
		if t.metrics != nil {
			t.metrics.SignaturesInFlight.Dec()
		}
	}
}

// Start begins the 1Hz poll loop. Call Stop to end it.
func (t *Tracker) Start(ctx context.Context) {
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.run(ctx)
}

func (t *Tracker) Stop() {
	if t.stopCh != nil {
		close(t.stopCh)
		<-t.doneCh
	}
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.Lock()
	sigs := make([]solana.Signature, 0, len(t.tracked))
	for sig := range t.tracked {
		sigs = append(sigs, sig)
	}
	t.mu.Unlock()
	if len(sigs) == 0 {
		return
	}

	statuses, err := t.chain.GetSignatureStatuses(ctx, sigs)
	if err != nil {
		t.logger.Error("poll signature statuses failed", "err", err)
		return
	}

	for sig, res := range statuses {
		t.mu.Lock()
		entry, ok := t.tracked[sig]
		if !ok {
			t.mu.Unlock()
			continue
		}

		switch res.Status {
		case solclient.SignatureConfirmed:
			delete(t.tracked, sig)
			delete(t.notFound, sig)
			if t.metrics != nil {
				t.metrics.SignaturesInFlight.Dec()
			}
			t.mu.Unlock()
			t.outcomes <- Outcome{Signature: sig, Kind: entry.kind, ExecutionID: entry.eid, Err: res.Err}

		case solclient.SignatureNotFound:
			t.notFound[sig]++
			count := t.notFound[sig]
			expired := count >= t.notFoundLimit
			if expired {
				delete(t.tracked, sig)
				delete(t.notFound, sig)
				if t.metrics != nil {
					t.metrics.SignaturesInFlight.Dec()
					t.metrics.TransactionExpired.Inc()
				}
			}
			t.mu.Unlock()
			if expired {
				t.outcomes <- Outcome{Signature: sig, Kind: entry.kind, ExecutionID: entry.eid, Expired: true}
			}

		default:
			delete(t.notFound, sig)
			t.mu.Unlock()
		}
	}
}
