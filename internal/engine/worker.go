package engine

import (
	"context"
	"errors"
	"time"

	"github.com/datallboy/serenity/internal/domain"
)

// schedule runs attempt until it succeeds, fails permanently, exhausts the
// backoff budget or ctx ends. Retries wait on a timer so cancellation is
// observed between attempts.
func (r *Runner) schedule(ctx context.Context, rec *domain.TaskRecord, attempt attemptFunc) domain.Result {
	for {
		rec.Attempts++
		rec.Status = domain.TaskRunning

		res := attempt(ctx, rec)

		switch {
		case res.OK():
			r.finish(ctx, rec, domain.TaskCompleted, nil)
			return res

		case ctx.Err() != nil:
			r.finish(ctx, rec, domain.TaskFailed, ctx.Err())
			return domain.Failure(ctx.Err())

		case res.Status == domain.ResultFailure:
			r.log.Error("[FAIL] %s %s permanently failed: %v", rec.Kind, label(rec), res.Err)
			r.finish(ctx, rec, domain.TaskFailed, res.Err)
			return res

		case r.backoff.Exhausted(rec.Attempts):
			r.log.Error("[FAIL] %s %s gave up after %d attempts: %v", rec.Kind, label(rec), rec.Attempts, res.Err)
			r.finish(ctx, rec, domain.TaskFailed, res.Err)
			return domain.Failure(res.Err)
		}

		delay := r.backoff.Delay(rec.Attempts)
		rec.Status = domain.TaskRetrying
		r.log.Warn("[Retry] %s %s: attempt %d failed, next in %s: %v",
			rec.Kind, label(rec), rec.Attempts, delay, res.Err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.finish(ctx, rec, domain.TaskFailed, ctx.Err())
			return domain.Failure(ctx.Err())
		case <-timer.C:
		}
	}
}

// finish persists the terminal state of rec. History is best effort.
func (r *Runner) finish(ctx context.Context, rec *domain.TaskRecord, status domain.TaskStatus, err error) {
	rec.Status = status
	rec.FinishedAt = time.Now().UTC()
	rec.Error = ""
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rec.Error = "cancelled"
		} else {
			rec.Error = err.Error()
		}
	}

	if r.history == nil {
		return
	}
	// The task may have ended because ctx did
	if herr := r.history.SaveTaskRun(context.WithoutCancel(ctx), rec); herr != nil {
		r.log.Warn("failed to record task %s: %v", rec.ID, herr)
	}
}

func label(rec *domain.TaskRecord) string {
	if rec.Filename != "" {
		return rec.Filename
	}
	return rec.ID
}
