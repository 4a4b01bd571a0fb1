package input

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"golang.org/x/sync/errgroup"

	"github.com/bonsol-network/prover-node/pkg/protocol"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
)

// Resolver resolves declared Input variants into concrete bytes.
type Resolver struct {
	chain          *solclient.Client
	httpClient     *http.Client
	maxInputSize   int64
	signerIdentity solana.PrivateKey
}

// New builds a resolver. maxInputSize bounds every per-input fetch,
// public or private, per spec.md section 6's max_input_size_mb.
func New(chain *solclient.Client, signer solana.PrivateKey, maxInputSize int64, timeout time.Duration) *Resolver {
	return &Resolver{
		chain:          chain,
		httpClient:     &http.Client{Timeout: timeout},
		maxInputSize:   maxInputSize,
		signerIdentity: signer,
	}
}

// ResolvePublic resolves every input except Private ones, in declared
// order, with bounded parallelism equal to the input count. Private
// inputs are recorded as Unresolved for later post-claim resolution.
// An InputSet expands into one ProgramInput per member rather than a
// single concatenated blob, since each member is its own slice handed
// to the guest in declared order (spec.md section 4.6); the final
// vector is re-indexed densely after every top-level input has
// expanded, so indices reflect final slot position rather than the
// position of the declared (possibly InputSet) entry that produced
// them. spec.md section 4.4 "Public-input resolution."
func (r *Resolver) ResolvePublic(ctx context.Context, inputs []protocol.Input) ([]ProgramInput, error) {
	groups := make([][]ProgramInput, len(inputs))
	g, gctx := errgroup.WithContext(ctx)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			resolved, err := r.resolveOne(gctx, in, 0)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			groups[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ProgramInput, 0, len(inputs))
	for _, group := range groups {
		for _, pi := range group {
			pi.Index = len(out)
			out = append(out, pi)
		}
	}
	return out, nil
}

// resolveOne resolves a single declared input into the ProgramInput
// entries it expands to: exactly one, except for InputSet which
// expands to one entry per member.
func (r *Resolver) resolveOne(ctx context.Context, in protocol.Input, depth int) ([]ProgramInput, error) {
	switch in.Kind {
	case protocol.InputKindPublicData:
		if int64(len(in.Data)) > r.maxInputSize {
			return nil, ErrTooLarge
		}
		return []ProgramInput{{State: ProgramInputResolved, Type: in.Kind, Bytes: in.Data}}, nil

	case protocol.InputKindPublicUrl, protocol.InputKindPublicProof:
		b, err := r.fetchURL(ctx, in.URL)
		if err != nil {
			return nil, err
		}
		return []ProgramInput{{State: ProgramInputResolved, Type: in.Kind, Bytes: b}}, nil

	case protocol.InputKindPublicAccountData:
		b, err := r.chain.AccountData(ctx, solana.PublicKey(in.Account))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		if int64(len(b)) > r.maxInputSize {
			return nil, ErrTooLarge
		}
		return []ProgramInput{{State: ProgramInputResolved, Type: in.Kind, Bytes: b}}, nil

	case protocol.InputKindInputSet:
		if depth > 0 {
			return nil, ErrNestedInputSet
		}
		setBytes, err := r.chain.AccountData(ctx, solana.PublicKey(in.SetAccount))
		if err != nil {
			return nil, fmt.Errorf("%w: fetch input set account: %v", ErrFetchFailed, err)
		}
		members, err := decodeInputSet(setBytes)
		if err != nil {
			return nil, err
		}
		expanded := make([]ProgramInput, 0, len(members))
		for _, m := range members {
			resolved, err := r.resolveOne(ctx, m, depth+1)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, resolved...)
		}
		return expanded, nil

	case protocol.InputKindPrivate:
		return []ProgramInput{{State: ProgramInputUnresolved, Type: in.Kind, URL: in.URL}}, nil

	default:
		return nil, ErrUnknownInputKind
	}
}

func (r *Resolver) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %s", ErrFetchFailed, resp.Status)
	}
	limited := io.LimitReader(resp.Body, r.maxInputSize+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(b)) > r.maxInputSize {
		return nil, ErrTooLarge
	}
	return b, nil
}

// privateRequest is the canonical request body signed and sent for a
// post-claim private input fetch, per spec.md section 4.4.
type privateRequest struct {
	Identity   string `json:"identity"`
	ClaimID    string `json:"claim_id"`
	InputIndex uint8  `json:"input_index"`
	NowUTC     uint64 `json:"now_utc"`
}

// ResolvePrivate fetches every still-Unresolved input after the claim
// has been confirmed on-chain. Never call this before that
// confirmation: spec.md invariant "private input URLs are never
// fetched before the claim is confirmed on-chain."
func (r *Resolver) ResolvePrivate(ctx context.Context, executionID []byte, staged []ProgramInput) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range staged {
		if staged[i].State != ProgramInputUnresolved {
			continue
		}
		i := i
		g.Go(func() error {
			b, err := r.fetchPrivate(gctx, executionID, staged[i])
			if err != nil {
				return fmt.Errorf("private input %d: %w", i, err)
			}
			staged[i].Bytes = b
			staged[i].State = ProgramInputResolved
			return nil
		})
	}
	return g.Wait()
}

func (r *Resolver) fetchPrivate(ctx context.Context, executionID []byte, in ProgramInput) ([]byte, error) {
	body := privateRequest{
		Identity:   base58.Encode(r.signerIdentity.PublicKey().Bytes()),
		ClaimID:    base58.Encode(executionID),
		InputIndex: uint8(in.Index),
		NowUTC:     uint64(time.Now().Unix()),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal private input request: %w", err)
	}
	sig, err := r.signerIdentity.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign private input request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+base58.Encode(sig[:]))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %s", ErrFetchFailed, resp.Status)
	}
	limited := io.LimitReader(resp.Body, r.maxInputSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(out)) > r.maxInputSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// ValidateResolved asserts the data model's invariant 6: the vector
// handed to proving has exactly declaredArity entries, every entry is
// Resolved (never Unresolved or Empty), and indices are dense [0..n).
func ValidateResolved(resolved []ProgramInput, declaredArity int) error {
	if len(resolved) != declaredArity {
		return fmt.Errorf("%w: got %d, want %d", ErrArityMismatch, len(resolved), declaredArity)
	}
	for i, in := range resolved {
		if in.State != ProgramInputResolved {
			return fmt.Errorf("%w: index %d", ErrNotFullyResolved, i)
		}
		if in.Index != i {
			return fmt.Errorf("%w: index %d has Index field %d", ErrNotFullyResolved, i, in.Index)
		}
	}
	return nil
}

// VerifyInputDigest checks the sha256 digest of the fully resolved,
// concatenated input vector against an execution's declared digest,
// honouring verify_input_hash.
func VerifyInputDigest(resolved []ProgramInput, want [32]byte) bool {
	h := sha256.New()
	for _, in := range resolved {
		h.Write(in.Bytes)
	}
	var got [32]byte
	copy(got[:], h.Sum(nil))
	return got == want
}

// decodeInputSet parses the members of an on-chain input-set account.
// Format: u32 count followed by that many Input wire entries, reusing
// the instruction parser's input encoding.
func decodeInputSet(data []byte) ([]protocol.Input, error) {
	return protocol.DecodeInputSet(data)
}
