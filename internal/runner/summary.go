package runner

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/dyluth/fpt/internal/matrix"
)

// Status classifies one job outcome.
type Status int

const (
	// StatusPass means the fixture ran and agreed with expectation.
	StatusPass Status = iota
	// StatusFail means the fixture ran and disagreed with expectation.
	StatusFail
	// StatusError means the harness could not execute the job at all.
	StatusError
	// StatusTimeout means the subprocess was killed at the deadline.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of one executed job, created exactly once by
// the worker that ran it.
type Outcome struct {
	Job      matrix.Job
	Status   Status
	Duration time.Duration
	ExitCode int
	Output   string
}

// Summary accumulates outcomes from all workers. Record is safe for
// concurrent use; aggregation is order-independent.
type Summary struct {
	mu       sync.Mutex
	outcomes []Outcome

	passed   int
	failed   int
	errored  int
	timedOut int
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{}
}

// Record adds one outcome.
func (s *Summary) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	switch o.Status {
	case StatusPass:
		s.passed++
	case StatusFail:
		s.failed++
	case StatusError:
		s.errored++
	case StatusTimeout:
		s.timedOut++
	}
}

// Counts returns the per-status totals.
func (s *Summary) Counts() (passed, failed, errored, timedOut int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passed, s.failed, s.errored, s.timedOut
}

// OK reports whether every recorded job passed.
func (s *Summary) OK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed == 0 && s.errored == 0 && s.timedOut == 0
}

// Outcomes returns a copy of all outcomes sorted by job identity.
func (s *Summary) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := make([]Outcome, len(s.outcomes))
	copy(sorted, s.outcomes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Job.String() < sorted[j].Job.String()
	})
	return sorted
}

// Failing returns the identities of every job that did not pass.
func (s *Summary) Failing() []matrix.Job {
	var failing []matrix.Job
	for _, o := range s.Outcomes() {
		if o.Status != StatusPass {
			failing = append(failing, o.Job)
		}
	}
	return failing
}

// Render writes the tabulated per-job results and a colored totals
// line.
func (s *Summary) Render(w io.Writer) error {
	outcomes := s.Outcomes()

	table := tablewriter.NewTable(w)
	table.Header("PLATFORM", "PROGRAM", "FIXTURE", "STATUS", "DURATION")
	for _, o := range outcomes {
		if err := table.Append([]string{
			o.Job.Platform,
			o.Job.Program,
			o.Job.Fixture,
			o.Status.String(),
			o.Duration.Round(time.Millisecond).String(),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	passed, failed, errored, timedOut := s.Counts()
	fmt.Fprintf(w, "\n%s, %s, %s, %s\n",
		color.GreenString("%d passed", passed),
		color.RedString("%d failed", failed),
		color.YellowString("%d errored", errored),
		color.YellowString("%d timed out", timedOut),
	)
	return nil
}
