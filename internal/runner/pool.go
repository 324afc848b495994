package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/matrix"
)

const (
	// DefaultTimeout bounds one job's subprocess unless overridden.
	DefaultTimeout = 30 * time.Minute

	// maxOutputSize caps captured subprocess output (1MB combined).
	maxOutputSize = 1 * 1024 * 1024

	// outputTailSize is how much of the captured output an outcome
	// keeps for diagnostics.
	outputTailSize = 4 * 1024

	// waitDelay bounds how long Wait may block on the output pipes
	// after the process exits or the deadline kills it. A killed VM can
	// leave a host child holding the inherited pipe; without this bound
	// the worker would hang for that descendant's lifetime.
	waitDelay = 2 * time.Second
)

// Pool is a fixed-size worker pool that drains a pre-computed job list.
// Artifacts must already be built: the pool only reads the index.
type Pool struct {
	Workers int
	Timeout time.Duration
	Invoker Invoker
	Index   *ArtifactIndex
	Store   *fixture.Store
}

// Run executes every job and records its outcome in the summary. Job
// failures, crashes, and timeouts are contained to their own outcome;
// no job cancels or blocks a sibling.
func (p *Pool) Run(ctx context.Context, jobs []matrix.Job, summary *Summary) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	invoker := p.Invoker
	if invoker == nil {
		invoker = HostInvoker{}
	}

	jobCh := make(chan matrix.Job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				outcome := p.runJob(ctx, invoker, job)
				logger.Debug("job finished", "job", job.String(), "status", outcome.Status, "duration", outcome.Duration)
				summary.Record(outcome)
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
}

// runJob executes one job end to end and always returns an outcome.
func (p *Pool) runJob(ctx context.Context, invoker Invoker, job matrix.Job) Outcome {
	start := time.Now()
	fail := func(status Status, exitCode int, output string) Outcome {
		return Outcome{Job: job, Status: status, Duration: time.Since(start), ExitCode: exitCode, Output: tail(output)}
	}

	platArts, err := p.Index.Platform(job.Platform)
	if err != nil {
		return fail(StatusError, -1, err.Error())
	}
	progArts, err := p.Index.Program(job.Program)
	if err != nil {
		return fail(StatusError, -1, err.Error())
	}
	fx, ok := p.Store.Get(job.Fixture)
	if !ok {
		return fail(StatusError, -1, fmt.Sprintf("fixture %q not in store", job.Fixture))
	}
	fixtureDir, err := filepath.Abs(p.Store.Dir(job.Fixture))
	if err != nil {
		return fail(StatusError, -1, err.Error())
	}

	inv, err := invoker.Invocation(job, fx, fixtureDir, platArts, progArts)
	if err != nil {
		return fail(StatusError, -1, err.Error())
	}

	// Each job gets its own scratch directory so concurrent jobs never
	// share VM state files.
	scratch := filepath.Join(os.TempDir(), "fpt-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fail(StatusError, -1, err.Error())
	}
	defer os.RemoveAll(scratch)

	execCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	for _, prep := range inv.Prep {
		cmd := exec.CommandContext(execCtx, prep[0], prep[1:]...)
		cmd.Dir = scratch
		cmd.WaitDelay = waitDelay
		out, err := cmd.CombinedOutput()
		if execCtx.Err() == context.DeadlineExceeded {
			return fail(StatusTimeout, -1, string(out))
		}
		if err != nil {
			return fail(StatusError, -1, fmt.Sprintf("prep command %v failed: %v\n%s", prep, err, out))
		}
	}

	buf := &bytes.Buffer{}
	capped := &limitedWriter{w: buf, limit: maxOutputSize}

	cmd := exec.CommandContext(execCtx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = scratch
	cmd.WaitDelay = waitDelay
	cmd.Stdout = capped
	cmd.Stderr = capped
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	if err := cmd.Start(); err != nil {
		// The harness could not even launch the process: Error, not
		// Fail.
		return fail(StatusError, -1, err.Error())
	}

	err = cmd.Wait()
	output := buf.String()

	if execCtx.Err() == context.DeadlineExceeded {
		return fail(StatusTimeout, -1, output)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			// The process exited but a descendant still held the output
			// pipe past the wait bound; the exit status is what counts.
			exitCode = cmd.ProcessState.ExitCode()
		default:
			return fail(StatusError, -1, fmt.Sprintf("%v\n%s", err, output))
		}
	}

	// The fixture records the exit status the host is expected to
	// produce; for ordinary fixtures that is zero.
	if exitCode == fx.ExpectedStatus {
		return fail(StatusPass, exitCode, output)
	}
	return fail(StatusFail, exitCode, output)
}

// limitedWriter discards writes past its limit so a chatty subprocess
// cannot exhaust memory.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// tail keeps the last outputTailSize bytes of a job's output.
func tail(s string) string {
	if len(s) <= outputTailSize {
		return s
	}
	return "..." + s[len(s)-outputTailSize:]
}
