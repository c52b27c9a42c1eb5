package metrics

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
)

// JobHandler matches the worker registry's handler signature.
type JobHandler func(context.Context, *job.Job) error

// JobMetricsMiddleware wraps a queue-job handler with processing counters
// and an active-jobs gauge.
func JobMetricsMiddleware(next JobHandler) JobHandler {
	return func(ctx context.Context, j *job.Job) error {
		start := time.Now()
		WorkerPoolActiveJobs.Inc()
		defer WorkerPoolActiveJobs.Dec()

		err := next(ctx, j)

		status := "success"
		if err != nil {
			status = "error"
		}
		JobsProcessedTotal.WithLabelValues(j.Type, status).Inc()
		JobsProcessingDuration.WithLabelValues(j.Type, "total").Observe(time.Since(start).Seconds())

		return err
	}
}
