package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/threads/internal/canon"
)

// Snapshot renders the trace as canonical JSON, one event per line.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range result.Trace {
		line, err := canon.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", ev.Step, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// AssertGolden compares the trace of result against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
