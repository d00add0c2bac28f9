package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kubermatic/cikit/junit"
	"github.com/kubermatic/cikit/shell"
)

// Runner executes commands under a Policy and reports the final outcome to
// a report sink. Diagnostics for every failed attempt go to the error
// stream via the logger.
type Runner struct {
	policy Policy
	log    *log.Logger
	sink   junit.Sink
	clock  clock.Clock
	tracer trace.Tracer
}

// NewRunner creates a Runner. A nil sink discards outcomes.
func NewRunner(logger *log.Logger, policy Policy, sink junit.Sink) (*Runner, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = junit.Discard
	}
	return &Runner{
		policy: policy.withDefaults(),
		log:    logger,
		sink:   sink,
		clock:  clock.New(),
		tracer: otel.Tracer("retry runner"),
	}, nil
}

// Run executes cmd until it exits zero or attempts are exhausted. The
// outcome always carries the final attempt's exit code and is always
// forwarded to the sink. The error is non-nil only when ctx aborted the
// run during a backoff sleep.
func (r *Runner) Run(ctx context.Context, cmd shell.Command) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "retry run")
	defer span.End()

	runID := uuid.New().String()
	max := r.policy.MaxAttempts
	delay := r.policy.InitialDelay
	start := r.clock.Now()

	r.log.Debug("running command", "run_id", runID, "command", cmd.String(), "max_attempts", max)

	for attempt := 1; ; attempt++ {
		exitCode := r.runAttempt(ctx, cmd, attempt, runID)
		if exitCode == 0 {
			if attempt > 1 {
				r.log.Info("command succeeded after retries", "run_id", runID, "attempts", attempt)
			}
			return r.finish(start, exitCode, attempt), nil
		}
		if attempt == max {
			r.log.Error("command failed, no retries left",
				"run_id", runID,
				"attempt", fmt.Sprintf("%d/%d", attempt, max),
				"exit_code", exitCode)
			return r.finish(start, exitCode, attempt), nil
		}

		r.log.Warn("command failed, retrying",
			"run_id", runID,
			"attempt", fmt.Sprintf("%d/%d", attempt, max),
			"exit_code", exitCode,
			"retry_in", delay)

		select {
		case <-r.clock.After(delay):
		case <-ctx.Done():
			r.log.Warn("retry aborted", "run_id", runID, "attempt", attempt, "err", ctx.Err())
			return r.finish(start, exitCode, attempt), ctx.Err()
		}

		delay *= 2
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
}

func (r *Runner) runAttempt(ctx context.Context, cmd shell.Command, attempt int, runID string) int {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("attempt %d", attempt))
	defer span.End()

	exitCode, err := cmd.Run(ctx)
	if err != nil {
		r.log.Debug("command did not run cleanly", "run_id", runID, "attempt", attempt, "err", err)
	}
	return exitCode
}

// finish builds the outcome and forwards it to the sink. A failed report
// write is logged but never overrides the command's own result.
func (r *Runner) finish(start time.Time, exitCode, attempts int) Outcome {
	outcome := Outcome{
		ExitCode: exitCode,
		Attempts: attempts,
		Elapsed:  r.clock.Now().Sub(start),
	}
	if err := r.sink.Write(junit.Result{ExitCode: outcome.ExitCode, Duration: outcome.Elapsed}); err != nil {
		r.log.Error("failed to write junit report", "err", err)
	}
	return outcome
}
