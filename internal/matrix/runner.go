package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/isometry/ldapprobe/internal/metrics"
	"github.com/isometry/ldapprobe/internal/probe"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "matrix"

// Prober runs a single probe attempt. *probe.Prober satisfies it.
type Prober interface {
	RunAttempt(ctx context.Context, ep probe.Endpoint, creds probe.Credentials, attempt int) probe.Result
}

var _ Prober = (*probe.Prober)(nil)

// Runner executes a Plan and aggregates the results into a Report.
type Runner struct {
	Prober Prober

	// Concurrency bounds the number of probes in flight. Values below 1 mean 1.
	Concurrency int

	// Delay paces attempts. Sequential runs wait Delay after each attempt
	// finishes before starting the next; concurrent runs space attempt starts
	// at least Delay apart.
	Delay time.Duration

	// Metrics receives every result; nil disables metrics.
	Metrics *metrics.Collector

	// OnResult is called once per finished attempt, in completion order.
	// Calls never overlap.
	OnResult func(probe.Result)

	// Now and NewID default to time.Now and a random UUID.
	Now   func() time.Time
	NewID func() string
}

type job struct {
	index    int
	endpoint probe.Endpoint
	attempt  int
}

// Run probes every mode of plan, plan.Repetitions times each. Results are
// ordered by mode (in plan order) then attempt, whatever the concurrency.
//
// An invalid plan returns a *ConfigError and no report. If ctx ends before all
// attempts were started, the report holds the attempts that ran and the
// context error is returned alongside it.
func (r *Runner) Run(ctx context.Context, plan Plan) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if r.Prober == nil {
		return nil, errors.New("runner has no prober")
	}

	now := r.Now
	if now == nil {
		now = time.Now
	}
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	concurrency := max(r.Concurrency, 1)

	report := &Report{
		ID:        newID(),
		Host:      plan.Host,
		Principal: plan.Credentials.Principal,
		Modes:     plan.Modes,
		Started:   now(),
	}

	fields := map[string]any{
		"run_id":      report.ID,
		"host":        plan.Host,
		"modes":       len(plan.Modes),
		"repetitions": plan.Repetitions,
		"concurrency": concurrency,
		"delay":       r.Delay.String(),
	}
	tflog.SubsystemInfo(ctx, Subsystem, "Starting probe run", fields)

	jobs := make([]job, 0, plan.Attempts())
	for _, mode := range plan.Modes {
		ep := probe.Resolve(plan.Host, mode)
		for attempt := range plan.Repetitions {
			jobs = append(jobs, job{index: len(jobs), endpoint: ep, attempt: attempt})
		}
	}

	var (
		mu      sync.Mutex
		results = make([]probe.Result, len(jobs))
		done    = make([]bool, len(jobs))
		runErr  error
	)

	runJob := func(j job) {
		tflog.SubsystemTrace(ctx, Subsystem, "Scheduling attempt", map[string]any{
			"mode":    j.endpoint.Mode.String(),
			"attempt": j.attempt,
		})

		res := r.Prober.RunAttempt(ctx, j.endpoint, plan.Credentials, j.attempt)

		mu.Lock()
		defer mu.Unlock()
		results[j.index] = res
		done[j.index] = true
		r.Metrics.Observe(res)
		if r.OnResult != nil {
			r.OnResult(res)
		}
	}

	if concurrency == 1 {
		runErr = r.runSequential(ctx, jobs, runJob)
	} else {
		runErr = r.runConcurrent(ctx, jobs, concurrency, runJob)
	}

	for i, res := range results {
		if done[i] {
			report.Results = append(report.Results, res)
		}
	}
	if runErr == nil && len(report.Results) < len(jobs) {
		runErr = ctx.Err()
	}
	report.Finished = now()
	report.Tallies = tally(plan, results, done)
	r.Metrics.MarkFinished(report.Finished)

	fields["attempts"] = len(report.Results)
	fields["failed"] = report.Failed()

	if runErr != nil {
		fields["error"] = runErr.Error()
		tflog.SubsystemWarn(ctx, Subsystem, "Probe run interrupted", fields)
		return report, fmt.Errorf("probe run interrupted after %d of %d attempts: %w", len(report.Results), len(jobs), runErr)
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Probe run finished", fields)
	return report, nil
}

// runSequential runs jobs one at a time, pausing for Delay between the end of
// one attempt and the start of the next.
func (r *Runner) runSequential(ctx context.Context, jobs []job, runJob func(job)) error {
	for i, j := range jobs {
		if i > 0 && r.Delay > 0 {
			if err := pause(ctx, r.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runJob(j)
	}
	return nil
}

// runConcurrent keeps up to concurrency jobs in flight, spacing their starts
// at least Delay apart.
func (r *Runner) runConcurrent(ctx context.Context, jobs []job, concurrency int, runJob func(job)) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.Delay), 1)
	}

	var (
		g      errgroup.Group
		runErr error
	)
	g.SetLimit(concurrency)

	for _, j := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			runErr = ctxOr(ctx, err)
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			runJob(j)
			return nil
		})
	}

	_ = g.Wait() // attempts report failure through their results
	return runErr
}

// pause waits for d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ctxOr prefers the context's own error over the limiter's wording of it.
func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// tally summarizes results per plan mode position, so a mode listed twice
// gets two tallies.
func tally(plan Plan, results []probe.Result, done []bool) []Tally {
	tallies := make([]Tally, len(plan.Modes))
	for i, m := range plan.Modes {
		tallies[i].Mode = m
	}

	for i, res := range results {
		if !done[i] {
			continue
		}
		t := &tallies[i/plan.Repetitions]
		t.Attempts++
		if res.Succeeded() {
			t.Succeeded++
		} else {
			t.Failed++
		}
		if res.Rejected {
			t.Rejected++
		}
		t.Warnings += len(res.Warnings)
	}

	return tallies
}
