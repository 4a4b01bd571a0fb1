package zkvm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// SubprocessRunner invokes the vendored zkVM host binaries rather than
// linking a zkVM runtime into this process: the binary is the black
// box, this struct only shells out to it and parses its JSON report.
type SubprocessRunner struct {
	executorBinary string
	proverBinary   string
	timeout        time.Duration
}

// NewSubprocessRunner looks for "risc0-executor" and "risc0-prover"
// alongside the Groth16 compression tools, so a single tools directory
// carries every external zkVM binary the node depends on.
func NewSubprocessRunner(toolsDir string, timeout time.Duration) *SubprocessRunner {
	return &SubprocessRunner{
		executorBinary: filepath.Join(toolsDir, "risc0-executor"),
		proverBinary:   filepath.Join(toolsDir, "risc0-prover"),
		timeout:        timeout,
	}
}

type executeRequest struct {
	ELFPath       string   `json:"elf_path"`
	InputPaths    []string `json:"input_paths"`
	AssumptionPaths []string `json:"assumption_paths"`
}

type executeReport struct {
	Outcome      string `json:"outcome"`
	UserExitCode uint32 `json:"user_exit_code"`
	JournalPath  string `json:"journal_path"`
	SessionPath  string `json:"session_path"`
}

// Execute shells out to the executor binary, writing the ELF and
// resolved inputs to a scratch directory and reading back a report
// naming where the session journal and handle were written.
func (s *SubprocessRunner) Execute(elf []byte, inputs [][]byte, assumptions [][]byte) (*Session, error) {
	dir, err := os.MkdirTemp("", "bonsol-execute-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	elfPath := filepath.Join(dir, "program.elf")
	if err := os.WriteFile(elfPath, elf, 0o600); err != nil {
		return nil, fmt.Errorf("write elf: %w", err)
	}

	req := executeRequest{ELFPath: elfPath}
	for i, in := range inputs {
		p := filepath.Join(dir, fmt.Sprintf("input-%d.bin", i))
		if err := os.WriteFile(p, in, 0o600); err != nil {
			return nil, fmt.Errorf("write input %d: %w", i, err)
		}
		req.InputPaths = append(req.InputPaths, p)
	}
	for i, a := range assumptions {
		p := filepath.Join(dir, fmt.Sprintf("assumption-%d.bin", i))
		if err := os.WriteFile(p, a, 0o600); err != nil {
			return nil, fmt.Errorf("write assumption %d: %w", i, err)
		}
		req.AssumptionPaths = append(req.AssumptionPaths, p)
	}

	reqPath := filepath.Join(dir, "request.json")
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}
	if err := os.WriteFile(reqPath, reqBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write execute request: %w", err)
	}

	reportPath := filepath.Join(dir, "report.json")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.executorBinary, reqPath, reportPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("risc0-executor: %w: %s", err, out)
	}

	var rep executeReport
	repBytes, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("read execute report: %w", err)
	}
	if err := json.Unmarshal(repBytes, &rep); err != nil {
		return nil, fmt.Errorf("parse execute report: %w", err)
	}

	kind, err := parseOutcomeKind(rep.Outcome)
	if err != nil {
		return nil, err
	}
	journal, err := os.ReadFile(rep.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return &Session{
		Outcome: ExecutionOutcome{Kind: kind, UserExit: rep.UserExitCode},
		Journal: journal,
		Handle:  rep.SessionPath,
	}, nil
}

func parseOutcomeKind(s string) (OutcomeKind, error) {
	switch s {
	case "halted":
		return OutcomeHalted, nil
	case "paused":
		return OutcomePaused, nil
	case "system_split":
		return OutcomeSystemSplit, nil
	case "session_limit":
		return OutcomeSessionLimit, nil
	default:
		return 0, fmt.Errorf("risc0-executor: unknown outcome %q", s)
	}
}

type proveReport struct {
	SealPath             string `json:"seal_path"`
	PostStateDigestHex   string `json:"post_state_digest"`
	AssumptionDigestHex  string `json:"assumption_digest"`
}

// ProveAndLift shells out to the prover binary against the session
// handle Execute produced.
func (s *SubprocessRunner) ProveAndLift(session *Session) (*SuccinctReceipt, error) {
	sessionPath, ok := session.Handle.(string)
	if !ok {
		return nil, fmt.Errorf("risc0-prover: session handle is not a file path")
	}

	dir := filepath.Dir(sessionPath)
	reportPath := filepath.Join(dir, "prove-report.json")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.proverBinary, sessionPath, reportPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("risc0-prover: %w: %s", err, out)
	}

	var rep proveReport
	repBytes, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("read prove report: %w", err)
	}
	if err := json.Unmarshal(repBytes, &rep); err != nil {
		return nil, fmt.Errorf("parse prove report: %w", err)
	}

	seal, err := os.ReadFile(rep.SealPath)
	if err != nil {
		return nil, fmt.Errorf("read seal: %w", err)
	}
	postState, err := decodeHexDigest(rep.PostStateDigestHex)
	if err != nil {
		return nil, fmt.Errorf("post state digest: %w", err)
	}
	assumption, err := decodeHexDigest(rep.AssumptionDigestHex)
	if err != nil {
		return nil, fmt.Errorf("assumption digest: %w", err)
	}

	return &SuccinctReceipt{
		SealBytes:        seal,
		PostStateDigest:  postState,
		AssumptionDigest: assumption,
		Journal:          session.Journal,
	}, nil
}

func decodeHexDigest(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
