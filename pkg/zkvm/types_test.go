package zkvm

import "testing"

func TestExitCodes(t *testing.T) {
	cases := []struct {
		in             ExecutionOutcome
		system, user   uint32
	}{
		{ExecutionOutcome{Kind: OutcomeHalted, UserExit: 5}, 0, 5},
		{ExecutionOutcome{Kind: OutcomePaused, UserExit: 2}, 1, 2},
		{ExecutionOutcome{Kind: OutcomeSystemSplit}, 2, 0},
		{ExecutionOutcome{Kind: OutcomeSessionLimit}, 2, 2},
	}
	for _, c := range cases {
		sys, usr := ExitCodes(c.in)
		if sys != c.system || usr != c.user {
			t.Fatalf("ExitCodes(%+v) = (%d,%d), want (%d,%d)", c.in, sys, usr, c.system, c.user)
		}
	}
}
