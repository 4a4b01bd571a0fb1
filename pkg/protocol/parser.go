package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidInstruction is returned for any schema violation: truncated
// tables, out-of-range offsets, or an unrecognised discriminator.
// spec.md section 4.2: "Returns InvalidInstruction on any schema
// violation."
var ErrInvalidInstruction = errors.New("invalid instruction")

// fileIdentifier is the 8-byte tag every table payload must begin
// with, per spec.md section 6 ("an 8-byte file identifier").
var fileIdentifier = [8]byte{'B', 'N', 'S', 'L', 'v', '1', 0, 0}

// reader is a bounds-checked cursor over a table payload. Every method
// returns ErrInvalidInstruction instead of panicking on truncation,
// matching spec.md's "Length checks are enforced at every table
// access".
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return ErrInvalidInstruction
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *reader) pubkey() (Pubkey, error) {
	b, err := r.fixed(32)
	if err != nil {
		return Pubkey{}, err
	}
	var p Pubkey
	copy(p[:], b)
	return p, nil
}

// bytesField reads a u32 length prefix followed by that many bytes. A
// length of 0xFFFFFFFF marks an absent (None) field.
func (r *reader) bytesField() ([]byte, bool, error) {
	n, err := r.u32()
	if err != nil {
		return nil, false, err
	}
	if n == 0xFFFFFFFF {
		return nil, false, nil
	}
	b, err := r.fixed(int(n))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *reader) stringField() (string, bool, error) {
	b, present, err := r.bytesField()
	if err != nil || !present {
		return "", present, err
	}
	return string(b), true, nil
}

// ParseInstruction decodes one ProtocolInstruction's Data payload into
// a tagged Message. This is the single pure function named in spec.md
// section 4.2: it has no side effects and every access is bounds
// checked.
func ParseInstruction(data []byte) (*Message, error) {
	r := newReader(data)

	id, err := r.fixed(8)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated file identifier", ErrInvalidInstruction)
	}
	for i := range fileIdentifier {
		if id[i] != fileIdentifier[i] {
			return nil, fmt.Errorf("%w: unrecognised file identifier", ErrInvalidInstruction)
		}
	}

	discByte, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing discriminator", ErrInvalidInstruction)
	}
	disc := Discriminator(discByte)

	switch disc {
	case DiscriminatorDeploy:
		d, err := parseDeploy(r)
		if err != nil {
			return nil, err
		}
		return &Message{Discriminator: disc, Deploy: d}, nil
	case DiscriminatorExecute:
		e, err := parseExecute(r)
		if err != nil {
			return nil, err
		}
		return &Message{Discriminator: disc, Execute: e}, nil
	case DiscriminatorClaim:
		c, err := parseClaim(r)
		if err != nil {
			return nil, err
		}
		return &Message{Discriminator: disc, Claim: c}, nil
	case DiscriminatorStatus:
		s, err := parseStatus(r)
		if err != nil {
			return nil, err
		}
		return &Message{Discriminator: disc, Status: s}, nil
	default:
		return nil, fmt.Errorf("%w: unknown discriminator %d", ErrInvalidInstruction, discByte)
	}
}

func parseDeploy(r *reader) (*DeployV1, error) {
	owner, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("%w: deploy.owner: %v", ErrInvalidInstruction, err)
	}
	idBytes, err := r.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("%w: deploy.image_id: %v", ErrInvalidInstruction, err)
	}
	var imageID ImageID
	copy(imageID[:], idBytes)

	url, present, err := r.stringField()
	if err != nil || !present {
		return nil, fmt.Errorf("%w: deploy.url", ErrInvalidInstruction)
	}
	size, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: deploy.size: %v", ErrInvalidInstruction, err)
	}
	name, present, err := r.stringField()
	if err != nil || !present {
		return nil, fmt.Errorf("%w: deploy.name", ErrInvalidInstruction)
	}

	typeCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: deploy.input_types length: %v", ErrInvalidInstruction, err)
	}
	types := make([]InputType, 0, typeCount)
	for i := uint32(0); i < typeCount; i++ {
		b, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("%w: deploy.input_types[%d]", ErrInvalidInstruction, i)
		}
		types = append(types, InputType(b))
	}

	return &DeployV1{Owner: owner, ImageID: imageID, URL: url, Size: size, Name: name, InputTypes: types}, nil
}

func parseInput(r *reader, depth int) (Input, error) {
	kindByte, err := r.byte()
	if err != nil {
		return Input{}, fmt.Errorf("%w: input.kind: %v", ErrInvalidInstruction, err)
	}
	kind := InputKind(kindByte)

	switch kind {
	case InputKindPublicData:
		data, present, err := r.bytesField()
		if err != nil || !present {
			return Input{}, fmt.Errorf("%w: public_data.bytes", ErrInvalidInstruction)
		}
		return Input{Kind: kind, Data: data}, nil
	case InputKindPublicUrl, InputKindPublicProof, InputKindPrivate:
		url, present, err := r.stringField()
		if err != nil || !present {
			return Input{}, fmt.Errorf("%w: input.url", ErrInvalidInstruction)
		}
		return Input{Kind: kind, URL: url}, nil
	case InputKindPublicAccountData:
		acc, err := r.pubkey()
		if err != nil {
			return Input{}, fmt.Errorf("%w: public_account_data.pubkey: %v", ErrInvalidInstruction, err)
		}
		return Input{Kind: kind, Account: acc}, nil
	case InputKindInputSet:
		// spec.md section 3: "one level of nesting max". A set entry
		// found while already inside a set is a schema violation.
		if depth > 0 {
			return Input{}, fmt.Errorf("%w: nested input_set exceeds one level", ErrInvalidInstruction)
		}
		acc, err := r.pubkey()
		if err != nil {
			return Input{}, fmt.Errorf("%w: input_set.account: %v", ErrInvalidInstruction, err)
		}
		return Input{Kind: kind, SetAccount: acc}, nil
	default:
		return Input{}, fmt.Errorf("%w: unknown input kind %d", ErrInvalidInstruction, kindByte)
	}
}

func parseExecute(r *reader) (*ExecuteV1, error) {
	eid, present, err := r.bytesField()
	if err != nil || !present || len(eid) > 64 {
		return nil, fmt.Errorf("%w: execute.execution_id", ErrInvalidInstruction)
	}
	idBytes, err := r.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("%w: execute.image_id: %v", ErrInvalidInstruction, err)
	}
	var imageID ImageID
	copy(imageID[:], idBytes)

	requester, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.requester: %v", ErrInvalidInstruction, err)
	}
	tip, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.tip: %v", ErrInvalidInstruction, err)
	}

	inputCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.inputs length: %v", ErrInvalidInstruction, err)
	}
	inputs := make([]Input, 0, inputCount)
	for i := uint32(0); i < inputCount; i++ {
		in, err := parseInput(r, 0)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}

	maxBlockHeight, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.max_block_height: %v", ErrInvalidInstruction, err)
	}
	verifyInputHash, err := r.bool()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.verify_input_hash: %v", ErrInvalidInstruction, err)
	}

	var inputDigest *[32]byte
	if digestBytes, present, err := r.bytesField(); err != nil {
		return nil, fmt.Errorf("%w: execute.input_digest: %v", ErrInvalidInstruction, err)
	} else if present {
		if len(digestBytes) != 32 {
			return nil, fmt.Errorf("%w: execute.input_digest wrong length", ErrInvalidInstruction)
		}
		var d [32]byte
		copy(d[:], digestBytes)
		inputDigest = &d
	}

	forwardOutput, err := r.bool()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.forward_output: %v", ErrInvalidInstruction, err)
	}

	var callbackProgramID *Pubkey
	hasCallback, err := r.bool()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.has_callback: %v", ErrInvalidInstruction, err)
	}
	var callbackPrefix []byte
	if hasCallback {
		pk, err := r.pubkey()
		if err != nil {
			return nil, fmt.Errorf("%w: execute.callback_program_id: %v", ErrInvalidInstruction, err)
		}
		callbackProgramID = &pk
		prefix, present, err := r.bytesField()
		if err != nil || !present {
			return nil, fmt.Errorf("%w: execute.callback_instruction_prefix", ErrInvalidInstruction)
		}
		callbackPrefix = prefix
	}

	extraCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: execute.extra_accounts length: %v", ErrInvalidInstruction, err)
	}
	extra := make([]Pubkey, 0, extraCount)
	for i := uint32(0); i < extraCount; i++ {
		pk, err := r.pubkey()
		if err != nil {
			return nil, fmt.Errorf("%w: execute.extra_accounts[%d]", ErrInvalidInstruction, i)
		}
		extra = append(extra, pk)
	}

	proverVersion, present, err := r.stringField()
	if err != nil || !present {
		return nil, fmt.Errorf("%w: execute.prover_version", ErrInvalidInstruction)
	}

	return &ExecuteV1{
		ExecutionID:               eid,
		ImageID:                   imageID,
		Requester:                 requester,
		Tip:                       tip,
		Inputs:                    inputs,
		MaxBlockHeight:            maxBlockHeight,
		VerifyInputHash:           verifyInputHash,
		InputDigest:               inputDigest,
		ForwardOutput:             forwardOutput,
		CallbackProgramID:         callbackProgramID,
		CallbackInstructionPrefix: callbackPrefix,
		ExtraAccounts:             extra,
		ProverVersion:             proverVersion,
	}, nil
}

func parseClaim(r *reader) (*ClaimV1, error) {
	eid, present, err := r.bytesField()
	if err != nil || !present {
		return nil, fmt.Errorf("%w: claim.execution_id", ErrInvalidInstruction)
	}
	claimer, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("%w: claim.claimer: %v", ErrInvalidInstruction, err)
	}
	claimedAt, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: claim.claimed_at_slot: %v", ErrInvalidInstruction, err)
	}
	commitment, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: claim.block_commitment: %v", ErrInvalidInstruction, err)
	}
	return &ClaimV1{ExecutionID: eid, Claimer: claimer, ClaimedAtSlot: claimedAt, BlockCommitment: commitment}, nil
}

// DecodeInputSet parses the members of an on-chain input-set account:
// a u32 count followed by that many wire-encoded Input entries. Used
// by the input resolver when it dereferences an InputSet entry; the
// instruction parser itself never performs this account fetch.
func DecodeInputSet(data []byte) ([]Input, error) {
	r := newReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: input_set count: %v", ErrInvalidInstruction, err)
	}
	out := make([]Input, 0, count)
	for i := uint32(0); i < count; i++ {
		in, err := parseInput(r, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func parseStatus(r *reader) (*StatusV1, error) {
	eid, present, err := r.bytesField()
	if err != nil || !present {
		return nil, fmt.Errorf("%w: status.execution_id", ErrInvalidInstruction)
	}
	submitter, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("%w: status.submitter: %v", ErrInvalidInstruction, err)
	}
	sys, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: status.exit_code_system: %v", ErrInvalidInstruction, err)
	}
	user, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: status.exit_code_user: %v", ErrInvalidInstruction, err)
	}
	return &StatusV1{ExecutionID: eid, Submitter: submitter, ExitCodeSys: sys, ExitCodeUser: user}, nil
}
