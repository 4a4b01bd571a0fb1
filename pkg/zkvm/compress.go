package zkvm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

// Compressor shells out to the vendored witness generator and Groth16
// prover to turn a succinct receipt's seal bytes into a 256-byte
// on-chain-verifiable Groth16 proof: run a CLI binary in a scratch
// directory under a timeout, then parse its structured file output.
type Compressor struct {
	toolsDir string
	timeout  time.Duration
}

func NewCompressor(toolsDir string, timeout time.Duration) *Compressor {
	return &Compressor{toolsDir: toolsDir, timeout: timeout}
}

// witnessInput is "a single-key object with a numeric-string array"
// per spec.md section 4.6.
type witnessInput struct {
	Seal []string `json:"seal"`
}

// snarkProof mirrors the circom/snarkjs-style proof.json rapidsnark
// emits: three curve points as decimal-string coordinate triples.
type snarkProof struct {
	PiA [3]string    `json:"pi_a"`
	PiB [3][2]string `json:"pi_b"`
	PiC [3]string    `json:"pi_c"`
}

// Compress runs stark_verify then rapidsnark against sealBytes
// (the succinct receipt's seal, serialised as a numeric-string array)
// and returns the 256-byte A‖B‖C Groth16 seal.
func (c *Compressor) Compress(ctx context.Context, sealBytes []byte) ([256]byte, error) {
	var out [256]byte

	workDir, err := os.MkdirTemp("", "bonsol-compress-*")
	if err != nil {
		return out, fmt.Errorf("create compression work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.json")
	wtnsPath := filepath.Join(workDir, "witness.wtns")
	proofPath := filepath.Join(workDir, "proof.json")
	publicPath := filepath.Join(workDir, "public.json")
	zkeyPath := filepath.Join(c.toolsDir, "stark_verify_final.zkey")

	input := witnessInput{Seal: numericStrings(sealBytes)}
	payload, err := json.Marshal(input)
	if err != nil {
		return out, fmt.Errorf("marshal witness input: %w", err)
	}
	if err := os.WriteFile(inputPath, payload, 0o600); err != nil {
		return out, fmt.Errorf("write witness input: %w", err)
	}

	if err := c.run(ctx, "stark_verify", inputPath, wtnsPath); err != nil {
		return out, err
	}
	if err := c.run(ctx, "rapidsnark", zkeyPath, wtnsPath, proofPath, publicPath); err != nil {
		return out, err
	}

	proofRaw, err := os.ReadFile(proofPath)
	if err != nil {
		return out, fmt.Errorf("read proof.json: %w", err)
	}
	var proof snarkProof
	if err := json.Unmarshal(proofRaw, &proof); err != nil {
		return out, fmt.Errorf("parse proof.json: %w", err)
	}

	return encodeSeal(proof)
}

func (c *Compressor) run(ctx context.Context, binary string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bin := filepath.Join(c.toolsDir, binary)
	cmd := exec.CommandContext(runCtx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", binary, err, string(output))
	}
	return nil
}

// numericStrings serialises raw bytes as a numeric-string array, one
// entry per byte, the witness format spec.md section 4.6 names.
func numericStrings(b []byte) []string {
	out := make([]string, len(b))
	for i, v := range b {
		out[i] = fmt.Sprintf("%d", v)
	}
	return out
}

// encodeSeal packs the Groth16 proof's A, B, C affine coordinates into
// the 256-byte field-canonical on-chain seal format: A (64 bytes: x,y),
// B (128 bytes: x0,x1,y0,y1), C (64 bytes: x,y).
func encodeSeal(proof snarkProof) ([256]byte, error) {
	var out [256]byte

	ax, err := decimalFieldElement(proof.PiA[0])
	if err != nil {
		return out, fmt.Errorf("decode pi_a.x: %w", err)
	}
	ay, err := decimalFieldElement(proof.PiA[1])
	if err != nil {
		return out, fmt.Errorf("decode pi_a.y: %w", err)
	}
	bx0, err := decimalFieldElement(proof.PiB[0][1])
	if err != nil {
		return out, fmt.Errorf("decode pi_b.x0: %w", err)
	}
	bx1, err := decimalFieldElement(proof.PiB[0][0])
	if err != nil {
		return out, fmt.Errorf("decode pi_b.x1: %w", err)
	}
	by0, err := decimalFieldElement(proof.PiB[1][1])
	if err != nil {
		return out, fmt.Errorf("decode pi_b.y0: %w", err)
	}
	by1, err := decimalFieldElement(proof.PiB[1][0])
	if err != nil {
		return out, fmt.Errorf("decode pi_b.y1: %w", err)
	}
	cx, err := decimalFieldElement(proof.PiC[0])
	if err != nil {
		return out, fmt.Errorf("decode pi_c.x: %w", err)
	}
	cy, err := decimalFieldElement(proof.PiC[1])
	if err != nil {
		return out, fmt.Errorf("decode pi_c.y: %w", err)
	}

	pos := 0
	write := func(e fp.Element) {
		b := e.Bytes()
		copy(out[pos:pos+32], b[:])
		pos += 32
	}
	write(ax)
	write(ay)
	write(bx0)
	write(bx1)
	write(by0)
	write(by1)
	write(cx)
	write(cy)

	return out, nil
}

func decimalFieldElement(s string) (fp.Element, error) {
	var e fp.Element
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return e, fmt.Errorf("invalid decimal field element %q", s)
	}
	e.SetBigInt(i)
	return e, nil
}
