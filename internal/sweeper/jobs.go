package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"

	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/tracing"
)

// JobTypeExpirySweep is the queue job type for one expiry sweep.
const JobTypeExpirySweep = "session_expiry_sweep"

// SweepPayload parameterizes one queued sweep. The trace carrier links the
// worker-side span back to whoever enqueued the job.
type SweepPayload struct {
	BatchSize int                  `json:"batch_size"`
	Trace     tracing.TraceCarrier `json:"trace,omitempty"`
}

// Broker enqueues jobs; satisfied by the Redis-streams broker adapter.
type Broker interface {
	Enqueue(jobType string, payload interface{}) (string, error)
}

// Enqueue schedules an expiry sweep on the queue.
func Enqueue(ctx context.Context, broker Broker, batchSize int) (string, error) {
	ctx, span := tracing.StartJobEnqueueSpan(ctx, JobTypeExpirySweep)
	defer span.End()

	payload := SweepPayload{
		BatchSize: batchSize,
		Trace:     tracing.InjectTraceContext(ctx),
	}
	id, err := broker.Enqueue(JobTypeExpirySweep, payload)
	if err != nil {
		return "", fmt.Errorf("enqueue expiry sweep: %w", err)
	}
	metrics.RecordJobEnqueued(JobTypeExpirySweep)
	return id, nil
}

// Handler returns the worker-pool handler for expiry-sweep jobs.
func Handler(s *Sweeper) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		var payload SweepPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartJobSpan(ctx, JobTypeExpirySweep, j.ID)
		defer span.End()

		log := logger.FromContext(ctx).With("job_id", j.ID, "job_type", JobTypeExpirySweep)
		log.Info("job started")
		start := time.Now()

		if payload.BatchSize > 0 {
			s.batchSize = payload.BatchSize
		}

		stats, err := s.Run(ctx)
		if err != nil {
			tracing.RecordError(ctx, err)
			log.Error("sweep failed", "error", err)
			return err
		}

		metrics.RecordJobProcessed(JobTypeExpirySweep, "success", time.Since(start).Seconds())
		log.Info("job completed", "expired", stats.Expired, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}
