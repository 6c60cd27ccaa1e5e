package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its transcript against
// testdata/<name>.golden.
//
// To regenerate golden files after an intentional contract change, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc Scenario) *Result {
	t.Helper()
	res := Run(t, sc)
	g := goldie.New(t)
	g.Assert(t, sc.Name, res.Transcript())
	return res
}
