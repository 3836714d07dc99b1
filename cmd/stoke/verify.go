package main

import (
	"fmt"
	"io"

	"github.com/sio-stoke/stoke/internal/layout"
)

// runVerify checks that every frame in each session directory has its
// partner from the other sensor.
func runVerify(dirs []string, out io.Writer) int {
	if len(dirs) == 0 {
		fmt.Fprintln(out, "usage: stoke verify <sessionDir>...")
		return 2
	}

	code := 0
	for _, dir := range dirs {
		rep, err := layout.Verify(dir)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", dir, err)
			code = 1
			continue
		}
		fmt.Fprintf(out, "%s: %d pairs, %d unpaired, %d skipped\n", dir, rep.Pairs, len(rep.Unpaired), len(rep.Skipped))
		for _, p := range rep.Unpaired {
			fmt.Fprintf(out, "  seq %d: %s\n", p.Sequence, describePair(p))
		}
		for _, name := range rep.Skipped {
			fmt.Fprintf(out, "  skipped %s\n", name)
		}
		if !rep.OK() {
			code = 1
		}
	}
	return code
}

func describePair(p layout.Pair) string {
	switch {
	case p.Files[0] == nil && p.Files[1] == nil:
		return "empty"
	case p.Files[0] == nil:
		return "missing cam0"
	case p.Files[1] == nil:
		return "missing cam1"
	default:
		return fmt.Sprintf("timestamps differ (%d != %d)", p.Files[0].Timestamp, p.Files[1].Timestamp)
	}
}
