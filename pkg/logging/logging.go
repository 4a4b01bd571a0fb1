// Package logging constructs the process-wide structured logger.
//
// The prover node logs one line per state transition through a single
// root logger built here and threaded down via With(...) to every
// subsystem.
package logging

import (
	"os"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// New builds the root logger. level is one of "debug", "info", "error",
// "none", matching cometbft/libs/log's filter levels.
func New(level string) (cmtlog.Logger, error) {
	base := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	if level == "" {
		level = "info"
	}
	return cmtlog.ParseLogLevel(level, base, "info")
}

// Stage returns a logger tagged with a pipeline stage name, for the
// Proof Engine's three independently measurable stages.
func Stage(l cmtlog.Logger, stage string) cmtlog.Logger {
	return l.With("stage", stage)
}

// Execution returns a logger tagged with an execution id, so every
// line for one in-flight proof can be grepped together.
func Execution(l cmtlog.Logger, executionID string) cmtlog.Logger {
	return l.With("execution_id", executionID)
}
