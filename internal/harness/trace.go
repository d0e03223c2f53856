package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tempo/internal/eventlog"
)

// FormatTrace renders a result as one line per recorded event, in
// recording order. Wall-clock timestamps and message ids are omitted:
// they vary between executions while everything else in a stepped run
// is deterministic.
func FormatTrace(result *Result) []byte {
	var buf bytes.Buffer
	for _, rr := range result.Runs {
		for _, ev := range rr.Events {
			writeTraceLine(&buf, ev)
		}
	}
	return buf.Bytes()
}

func writeTraceLine(buf *bytes.Buffer, ev eventlog.Event) {
	fmt.Fprintf(buf, "run=%d process=%s tick=%d kind=%s clock=%d queue=%d peers=%q body=%q\n",
		ev.Run, ev.Process, ev.Tick, ev.Kind, ev.Clock, ev.QueueLen, ev.Peers, ev.Body)
}

// AssertGoldenTrace compares a result's trace against the golden file
// testdata/golden/{result.Scenario}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func AssertGoldenTrace(t *testing.T, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Scenario, FormatTrace(result))
}
