package solana

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// LoadKeypair reads a Solana CLI-format keypair file: a JSON array of
// 64 bytes (the Ed25519 secret key, seed+pubkey concatenated).
func LoadKeypair(path string) (solana.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file %s: %w", path, err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("parse keypair file %s: %w", path, err)
	}
	if len(bytes) != 64 {
		return nil, fmt.Errorf("keypair file %s: expected 64 bytes, got %d", path, len(bytes))
	}
	return solana.PrivateKey(bytes), nil
}
