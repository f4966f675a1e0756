// Package scheduler decides which jobs are due by their cron expression.
package scheduler

import (
	"fmt"
	"rsynco/internal/model"
	"time"

	"github.com/robfig/cron/v3"
)

// Invalid is a job left out of the due set because its schedule does not
// parse. Err wraps model.ErrScheduleInvalid.
type Invalid struct {
	Job model.Job
	Err error
}

func parse(job model.Job) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(job.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s: %q: %v", model.ErrScheduleInvalid, job.Name, job.Cron, err)
	}

	return schedule, nil
}

// IsDue reports whether job should run at now. Jobs without a schedule are
// never due; scheduled jobs that never synced successfully are always due.
// Otherwise the job is due once the first activation after its last
// successful sync has passed, so a failed run is picked up again on the
// next tick.
func IsDue(job model.Job, now time.Time) (bool, error) {
	if job.Cron == "" {
		return false, nil
	}

	schedule, err := parse(job)
	if err != nil {
		return false, err
	}

	if job.LastSyncAt == nil {
		return true, nil
	}

	return !schedule.Next(*job.LastSyncAt).After(now), nil
}

// DueJobs partitions jobs into those due at now and those whose schedule is
// malformed.
func DueJobs(jobs []model.Job, now time.Time) ([]model.Job, []Invalid) {
	var due []model.Job
	var invalid []Invalid

	for _, job := range jobs {
		ok, err := IsDue(job, now)
		if err != nil {
			invalid = append(invalid, Invalid{Job: job, Err: err})
			continue
		}
		if ok {
			due = append(due, job)
		}
	}

	return due, invalid
}

// NextRun is the next activation of job after its last successful sync, or
// after now when it never synced. ok is false for unscheduled jobs.
func NextRun(job model.Job, now time.Time) (next time.Time, ok bool, err error) {
	if job.Cron == "" {
		return time.Time{}, false, nil
	}

	schedule, err := parse(job)
	if err != nil {
		return time.Time{}, false, err
	}

	from := now
	if job.LastSyncAt != nil {
		from = *job.LastSyncAt
	}

	return schedule.Next(from), true, nil
}
