package protocol

import "encoding/binary"

type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) boolean(v bool) {
	if v {
		w.byte(1)
	} else {
		w.byte(0)
	}
}
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.bytes(b[:])
}
func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.bytes(b[:])
}
func (w *writer) fieldBytes(b []byte) { w.u32(uint32(len(b))); w.bytes(b) }

func envelopeBytes(disc Discriminator, payload []byte) []byte {
	w := &writer{}
	w.bytes(fileIdentifier[:])
	w.byte(byte(disc))
	w.bytes(payload)
	return w.buf
}

// EncodeClaim builds the instruction data for a claim transaction.
// spec.md section 4.5: "claim(execution_id, requester, execution_account,
// block_commitment)" — requester and execution_account are carried as
// transaction accounts, not instruction data.
func EncodeClaim(executionID []byte, blockCommitment uint64) []byte {
	w := &writer{}
	w.fieldBytes(executionID)
	w.u64(blockCommitment)
	return envelopeBytes(DiscriminatorClaim, w.buf)
}

// SubmitProofParams names every field the submit-status instruction
// carries, per spec.md section 4.5.
type SubmitProofParams struct {
	ExecutionID      []byte
	Proof            [256]byte
	ExecutionDigest  [32]byte
	InputDigest      [32]byte
	AssumptionDigest [32]byte
	CommittedOutputs []byte
	ExitCodeSystem   uint32
	ExitCodeUser     uint32
}

// EncodeSubmitProof builds the instruction data for a submit-status
// transaction.
func EncodeSubmitProof(p SubmitProofParams) []byte {
	w := &writer{}
	w.fieldBytes(p.ExecutionID)
	w.bytes(p.Proof[:])
	w.bytes(p.ExecutionDigest[:])
	w.bytes(p.InputDigest[:])
	w.bytes(p.AssumptionDigest[:])
	w.fieldBytes(p.CommittedOutputs)
	w.u32(p.ExitCodeSystem)
	w.u32(p.ExitCodeUser)
	return envelopeBytes(DiscriminatorStatus, w.buf)
}
