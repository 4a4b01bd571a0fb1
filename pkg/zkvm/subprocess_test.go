package zkvm

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFakeBinary(t *testing.T, dir, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary scripts require a POSIX shell")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script), 0o755))
}

func TestSubprocessRunnerExecuteAndProve(t *testing.T) {
	tools := t.TempDir()

	writeFakeBinary(t, tools, "risc0-executor", `
req="$1"
out="$2"
dir=$(dirname "$out")
journal="$dir/journal.bin"
printf 'hello' > "$journal"
session="$dir/session.bin"
printf 'session' > "$session"
cat > "$out" <<JSON
{"outcome":"halted","user_exit_code":0,"journal_path":"$journal","session_path":"$session"}
JSON
exit 0
`)
	writeFakeBinary(t, tools, "risc0-prover", `
session="$1"
out="$2"
dir=$(dirname "$out")
seal="$dir/seal.bin"
printf 'seal-bytes' > "$seal"
cat > "$out" <<JSON
{"seal_path":"$seal","post_state_digest":"$(printf '%064d' 1)","assumption_digest":"$(printf '%064d' 2)"}
JSON
exit 0
`)

	r := NewSubprocessRunner(tools, 5*time.Second)

	session, err := r.Execute([]byte("elf-bytes"), [][]byte{[]byte("in")}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeHalted, session.Outcome.Kind)
	require.Equal(t, []byte("hello"), session.Journal)

	receipt, err := r.ProveAndLift(session)
	require.NoError(t, err)
	require.Equal(t, []byte("seal-bytes"), receipt.SealBytes)
}
