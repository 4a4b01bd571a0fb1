package zkvm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFakeTool writes a tiny shell script standing in for stark_verify
// or rapidsnark, for exercising Compressor's subprocess orchestration
// without the real x86-only binaries.
func writeFakeTool(t *testing.T, dir, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
}

func TestCompressEndToEnd(t *testing.T) {
	dir := t.TempDir()

	writeFakeTool(t, dir, "stark_verify", `
out="$2"
touch "$out"
exit 0
`)
	writeFakeTool(t, dir, "rapidsnark", `
proof_path="$3"
cat > "$proof_path" <<'JSON'
{"pi_a":["1","2","1"],"pi_b":[["4","3"],["6","5"],["1","0"]],"pi_c":["7","8","1"]}
JSON
exit 0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stark_verify_final.zkey"), []byte("zkey"), 0o600))

	c := NewCompressor(dir, 5*time.Second)
	seal, err := c.Compress(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)

	var got snarkProof
	require.NoError(t, json.Unmarshal([]byte(`{"pi_a":["1","2","1"],"pi_b":[["4","3"],["6","5"],["1","0"]],"pi_c":["7","8","1"]}`), &got))
	want, err := encodeSeal(got)
	require.NoError(t, err)
	require.Equal(t, want, seal)
}

func TestCompressPropagatesToolFailure(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "stark_verify", "exit 1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stark_verify_final.zkey"), []byte("zkey"), 0o600))

	c := NewCompressor(dir, 5*time.Second)
	_, err := c.Compress(context.Background(), []byte{1})
	require.Error(t, err)
}
