package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type encoder struct {
	buf []byte
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }
func (e *encoder) byte(b byte)    { e.buf = append(e.buf, b) }
func (e *encoder) boolean(v bool) {
	if v {
		e.byte(1)
	} else {
		e.byte(0)
	}
}
func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.bytes(b[:])
}
func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.bytes(b[:])
}
func (e *encoder) pubkey(seed byte) {
	var p [32]byte
	for i := range p {
		p[i] = seed
	}
	e.bytes(p[:])
}
func (e *encoder) fieldBytes(b []byte) {
	e.u32(uint32(len(b)))
	e.bytes(b)
}
func (e *encoder) fieldAbsent() {
	e.u32(0xFFFFFFFF)
}
func (e *encoder) fieldString(s string) {
	e.fieldBytes([]byte(s))
}

func envelope(disc Discriminator, payload []byte) []byte {
	e := &encoder{}
	e.bytes(fileIdentifier[:])
	e.byte(byte(disc))
	e.bytes(payload)
	return e.buf
}

func TestParseDeploy(t *testing.T) {
	p := &encoder{}
	p.pubkey(0xAA)       // owner
	p.bytes(make([]byte, 32)) // image id (zero)
	p.fieldString("https://example.com/image.elf")
	p.u64(4096)
	p.fieldString("my-image")
	p.u32(2) // input types
	p.byte(byte(InputTypePublic))
	p.byte(byte(InputTypePrivate))

	msg, err := ParseInstruction(envelope(DiscriminatorDeploy, p.buf))
	require.NoError(t, err)
	require.NotNil(t, msg.Deploy)
	require.Equal(t, "https://example.com/image.elf", msg.Deploy.URL)
	require.Equal(t, uint64(4096), msg.Deploy.Size)
	require.Equal(t, "my-image", msg.Deploy.Name)
	require.Equal(t, []InputType{InputTypePublic, InputTypePrivate}, msg.Deploy.InputTypes)
}

func TestParseExecuteWithPublicDataInput(t *testing.T) {
	p := &encoder{}
	p.fieldBytes([]byte("ex-1"))       // execution_id
	p.bytes(make([]byte, 32))          // image_id
	p.pubkey(0xBB)                     // requester
	p.u64(10000)                       // tip

	p.u32(1) // one input
	p.byte(byte(InputKindPublicData))
	p.fieldBytes([]byte(`{"attestation":"test"}`))

	p.u64(200)         // max_block_height
	p.boolean(true)    // verify_input_hash
	p.fieldAbsent()    // input_digest absent
	p.boolean(false)   // forward_output
	p.boolean(false)   // has_callback
	p.u32(0)           // extra_accounts
	p.fieldString("v1")

	msg, err := ParseInstruction(envelope(DiscriminatorExecute, p.buf))
	require.NoError(t, err)
	require.NotNil(t, msg.Execute)
	require.Equal(t, []byte("ex-1"), msg.Execute.ExecutionID)
	require.Equal(t, uint64(10000), msg.Execute.Tip)
	require.Len(t, msg.Execute.Inputs, 1)
	require.Equal(t, InputKindPublicData, msg.Execute.Inputs[0].Kind)
	require.Nil(t, msg.Execute.InputDigest)
	require.Equal(t, "v1", msg.Execute.ProverVersion)
}

func TestParseExecuteWithCallback(t *testing.T) {
	p := &encoder{}
	p.fieldBytes([]byte("ex-2"))
	p.bytes(make([]byte, 32))
	p.pubkey(0xBB)
	p.u64(1)
	p.u32(0) // no inputs
	p.u64(500)
	p.boolean(false)
	digest := make([]byte, 32)
	digest[0] = 7
	p.fieldBytes(digest)
	p.boolean(true) // forward_output
	p.boolean(true) // has_callback
	p.pubkey(0xCC)
	p.fieldBytes([]byte{0x01, 0x02})
	p.u32(1)
	p.pubkey(0xDD)
	p.fieldString("v2")

	msg, err := ParseInstruction(envelope(DiscriminatorExecute, p.buf))
	require.NoError(t, err)
	require.NotNil(t, msg.Execute.InputDigest)
	require.Equal(t, byte(7), msg.Execute.InputDigest[0])
	require.NotNil(t, msg.Execute.CallbackProgramID)
	require.Equal(t, []byte{0x01, 0x02}, msg.Execute.CallbackInstructionPrefix)
	require.Len(t, msg.Execute.ExtraAccounts, 1)
}

func TestParseClaim(t *testing.T) {
	p := &encoder{}
	p.fieldBytes([]byte("ex-3"))
	p.pubkey(0x11)
	p.u64(100)
	p.u64(150)

	msg, err := ParseInstruction(envelope(DiscriminatorClaim, p.buf))
	require.NoError(t, err)
	require.Equal(t, []byte("ex-3"), msg.Claim.ExecutionID)
	require.Equal(t, uint64(100), msg.Claim.ClaimedAtSlot)
	require.Equal(t, uint64(150), msg.Claim.BlockCommitment)
}

func TestParseStatus(t *testing.T) {
	p := &encoder{}
	p.fieldBytes([]byte("ex-4"))
	p.pubkey(0x22)
	p.u32(0)
	p.u32(3)

	msg, err := ParseInstruction(envelope(DiscriminatorStatus, p.buf))
	require.NoError(t, err)
	require.Equal(t, uint32(0), msg.Status.ExitCodeSys)
	require.Equal(t, uint32(3), msg.Status.ExitCodeUser)
}

func TestParseRejectsTruncatedPayload(t *testing.T) {
	_, err := ParseInstruction(envelope(DiscriminatorClaim, []byte{0x01}))
	require.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestParseRejectsUnknownDiscriminator(t *testing.T) {
	_, err := ParseInstruction(envelope(Discriminator(99), nil))
	require.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestParseRejectsBadFileIdentifier(t *testing.T) {
	buf := append([]byte("WRONGID!"), byte(DiscriminatorClaim))
	_, err := ParseInstruction(buf)
	require.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestParseAcceptsTopLevelInputSet(t *testing.T) {
	p := &encoder{}
	p.fieldBytes([]byte("ex-5"))
	p.bytes(make([]byte, 32))
	p.pubkey(0xBB)
	p.u64(1)
	p.u32(1)
	p.byte(byte(InputKindInputSet))
	p.pubkey(0xEE)
	p.u64(500)
	p.boolean(false)
	p.fieldAbsent()
	p.boolean(false)
	p.boolean(false)
	p.u32(0)
	p.fieldString("v1")

	// A top-level InputSet is fine (depth 0). Nesting is rejected only
	// when DecodeInputSet parses a fetched set account's members at
	// depth 1, which this test does not exercise.
	msg, err := ParseInstruction(envelope(DiscriminatorExecute, p.buf))
	require.NoError(t, err)
	require.Equal(t, InputKindInputSet, msg.Execute.Inputs[0].Kind)
}
