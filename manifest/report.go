package manifest

import (
	"fmt"
	"time"

	"github.com/flanksource/clicky"
	"github.com/flanksource/clicky/api"
	"github.com/samber/lo"
)

type Status string

const (
	StatusPass Status = "PASS"
	// StatusFail means the test command ran and did not meet its expectation.
	StatusFail Status = "FAIL"
	// StatusError means a hook, fixture or teardown failed.
	StatusError Status = "ERROR"
	StatusSkip  Status = "SKIP"
)

func (s Status) Pretty() api.Text {
	switch s {
	case StatusPass:
		return clicky.Text("✓ PASS", "text-green-600")
	case StatusFail:
		return clicky.Text("✗ FAIL", "text-red-600 font-bold")
	case StatusError:
		return clicky.Text("! ERROR", "text-orange-600 font-bold")
	default:
		return clicky.Text("- SKIP", "text-gray-500")
	}
}

type TestResult struct {
	Manifest string        `json:"manifest"`
	Test     string        `json:"test"`
	Status   Status        `json:"status"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	RunID    string        `json:"runId,omitempty"`
	Duration time.Duration `json:"duration"`
	Result   *Result       `json:"result,omitempty"`

	err error
}

// Err is the error the run returned, with its fixture kind intact.
func (r TestResult) Err() error { return r.err }

func (r TestResult) Pretty() api.Text {
	t := r.Status.Pretty().Append(" ", "").
		Append(r.Manifest+" / ", "text-gray-500").
		Append(r.Test, "font-medium").
		Append(fmt.Sprintf(" (%s)", r.Duration.Round(time.Millisecond)), "text-muted")
	if r.Error != "" {
		t = t.NewLine().Append("    "+r.Error, "text-red-600")
	}
	return t
}

type Summary struct {
	Results []TestResult `json:"results"`
}

func (r Summary) Count(status Status) int {
	return lo.CountBy(r.Results, func(t TestResult) bool { return t.Status == status })
}

// Failed reports whether any test failed or errored.
func (r Summary) Failed() bool {
	return r.Count(StatusFail)+r.Count(StatusError) > 0
}

func (r Summary) Pretty() api.Text {
	t := clicky.Text("", "")
	for _, result := range r.Results {
		t = t.Add(result.Pretty()).NewLine()
	}
	return t.NewLine().
		Append(fmt.Sprintf("%d passed", r.Count(StatusPass)), "text-green-600").
		Append(", ", "").
		Append(fmt.Sprintf("%d failed", r.Count(StatusFail)), "text-red-600").
		Append(", ", "").
		Append(fmt.Sprintf("%d errors", r.Count(StatusError)), "text-orange-600").
		Append(", ", "").
		Append(fmt.Sprintf("%d skipped", r.Count(StatusSkip)), "text-gray-500")
}
