package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// executionClaimSeed is the literal seed spec.md section 4.5 names:
// "seeds include literal 'execution_claim' and the execution-account
// pubkey, deriving the PDA on both sides."
const executionClaimSeed = "execution_claim"

// DeriveClaimPDA computes the claim account address for a given
// execution account, the same derivation the settlement program uses
// so both sides agree on the address without an extra round trip.
func DeriveClaimPDA(programID, executionAccount solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(executionClaimSeed), executionAccount.Bytes()},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive claim pda for %s: %w", executionAccount, err)
	}
	return addr, bump, nil
}
