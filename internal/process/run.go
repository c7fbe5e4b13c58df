package process

import (
	"context"

	"github.com/cypherdesk/cypher/internal/metrics"
)

// Run starts spec and waits for it. Cancelling ctx terminates the process;
// Run still waits for the exit so the returned output is complete. When
// tracker is non-nil the process is tracked as active while it runs.
func Run(ctx context.Context, spec Spec, tracker *Tracker) Result {
	p, err := Start(spec)
	if err != nil {
		metrics.IncSubprocess(spec.Name, metrics.OutcomeStartFailed)
		return Result{ExitCode: -1, Err: err}
	}
	if tracker != nil {
		tracker.Track(p)
		defer tracker.Release(p)
	}
	select {
	case <-p.Done():
	case <-ctx.Done():
		_ = p.Terminate()
	}
	res := p.Wait()
	metrics.IncSubprocess(p.Name(), outcome(res))
	return res
}

func outcome(r Result) string {
	switch {
	case r.Terminated:
		return metrics.OutcomeTerminated
	case r.Success():
		return metrics.OutcomeSuccess
	default:
		return metrics.OutcomeFailed
	}
}
