package runner

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/fpt/internal/matrix"
)

func TestSummary_RecordConcurrent(t *testing.T) {
	summary := NewSummary()

	var wg sync.WaitGroup
	statuses := []Status{StatusPass, StatusFail, StatusError, StatusTimeout}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary.Record(Outcome{
				Job:    matrix.Job{Platform: "native", Program: "p", Fixture: "f"},
				Status: statuses[i%len(statuses)],
			})
		}(i)
	}
	wg.Wait()

	passed, failed, errored, timedOut := summary.Counts()
	assert.Equal(t, 25, passed)
	assert.Equal(t, 25, failed)
	assert.Equal(t, 25, errored)
	assert.Equal(t, 25, timedOut)
	assert.Len(t, summary.Outcomes(), 100)
}

func TestSummary_OK(t *testing.T) {
	summary := NewSummary()
	assert.True(t, summary.OK(), "empty summary is OK")

	summary.Record(Outcome{Status: StatusPass})
	assert.True(t, summary.OK())

	summary.Record(Outcome{Status: StatusFail})
	assert.False(t, summary.OK())
}

func TestSummary_OKRejectsErrorAndTimeout(t *testing.T) {
	for _, status := range []Status{StatusError, StatusTimeout} {
		summary := NewSummary()
		summary.Record(Outcome{Status: status})
		assert.False(t, summary.OK(), status.String())
	}
}

func TestSummary_OutcomesSorted(t *testing.T) {
	summary := NewSummary()
	summary.Record(Outcome{Job: matrix.Job{Platform: "native", Program: "op-program", Fixture: "z"}})
	summary.Record(Outcome{Job: matrix.Job{Platform: "cannon", Program: "op-program", Fixture: "a"}})
	summary.Record(Outcome{Job: matrix.Job{Platform: "native", Program: "kona", Fixture: "a"}})

	outcomes := summary.Outcomes()
	require.Len(t, outcomes, 3)
	assert.Equal(t, "cannon::op-program::a", outcomes[0].Job.String())
	assert.Equal(t, "native::kona::a", outcomes[1].Job.String())
	assert.Equal(t, "native::op-program::z", outcomes[2].Job.String())
}

func TestSummary_Failing(t *testing.T) {
	summary := NewSummary()
	summary.Record(Outcome{Job: matrix.Job{Platform: "native", Program: "p", Fixture: "ok"}, Status: StatusPass})
	summary.Record(Outcome{Job: matrix.Job{Platform: "native", Program: "p", Fixture: "bad"}, Status: StatusFail})
	summary.Record(Outcome{Job: matrix.Job{Platform: "native", Program: "p", Fixture: "slow"}, Status: StatusTimeout})

	failing := summary.Failing()
	require.Len(t, failing, 2)
	assert.Equal(t, "bad", failing[0].Fixture)
	assert.Equal(t, "slow", failing[1].Fixture)
}

func TestSummary_Render(t *testing.T) {
	summary := NewSummary()
	summary.Record(Outcome{
		Job:      matrix.Job{Platform: "native", Program: "op-program", Fixture: "reth-basic"},
		Status:   StatusPass,
		Duration: 1200 * time.Millisecond,
	})
	summary.Record(Outcome{
		Job:      matrix.Job{Platform: "cannon", Program: "op-program", Fixture: "reth-basic"},
		Status:   StatusFail,
		Duration: 3 * time.Second,
		ExitCode: 1,
	})

	var buf bytes.Buffer
	require.NoError(t, summary.Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "reth-basic")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "1 passed")
	assert.Contains(t, out, "1 failed")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "ERROR", StatusError.String())
	assert.Equal(t, "TIMEOUT", StatusTimeout.String())
}
