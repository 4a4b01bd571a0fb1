// Package runner is the scheduler and correctness core of the prover
// node: it owns per-execution state, decides what to claim, sequences
// input resolution through proving and submission, and reaps abandoned
// or lost claims. spec.md section 4.7.
package runner

import (
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/bonsol-network/prover-node/pkg/input"
	"github.com/bonsol-network/prover-node/pkg/protocol"
)

// Status is the InflightProof state machine's two live states, per
// spec.md section 3.
type Status int

const (
	StatusClaiming Status = iota
	StatusSubmitted
)

// Callback names the optional on-chain callback a submission carries.
type Callback struct {
	ProgramID         solana.PublicKey
	InstructionPrefix []byte
}

// InflightProof is the runner-local record of one execution we are
// pursuing, from claim through submission.
type InflightProof struct {
	// AttemptID identifies this claim attempt in logs independently of
	// ExecutionID, so log lines survive an execution being reclaimed
	// and restaged under the same ExecutionID.
	AttemptID        uuid.UUID
	ExecutionID      []byte
	ImageID          protocol.ImageID
	ExecutionAccount solana.PublicKey
	Requester        solana.PublicKey
	Status           Status
	ClaimSig         solana.Signature
	SubmitSig        solana.Signature
	HasSubmitSig     bool
	Expiry           uint64
	Callback         *Callback
	ExtraAccounts    []solana.PublicKey
	VerifyInputHash  bool
	InputDigest      *[32]byte
}

// stagingArea is the input_staging_area map from spec.md section 4.7,
// keyed by execution id.
type stagingArea struct {
	mu   sync.Mutex
	data map[string][]input.ProgramInput
}

func newStagingArea() *stagingArea {
	return &stagingArea{data: make(map[string][]input.ProgramInput)}
}

func (s *stagingArea) put(eid string, v []input.ProgramInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[eid] = v
}

func (s *stagingArea) get(eid string) ([]input.ProgramInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[eid]
	return v, ok
}

func (s *stagingArea) remove(eid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, eid)
}

// inflightMap is the inflight_proofs map from spec.md section 4.7.
// A single RWMutex is sufficient at this node's scale
// (maximum_concurrent_proofs is typically single digits to low tens),
// rather than a sharded map library.
type inflightMap struct {
	mu   sync.RWMutex
	data map[string]*InflightProof
}

func newInflightMap() *inflightMap {
	return &inflightMap{data: make(map[string]*InflightProof)}
}

func (m *inflightMap) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *inflightMap) store(eid string, p *InflightProof) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[eid] = p
}

func (m *inflightMap) get(eid string) (*InflightProof, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[eid]
	return p, ok
}

func (m *inflightMap) delete(eid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, eid)
}

func (m *inflightMap) snapshot() map[string]*InflightProof {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*InflightProof, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
