// ABOUTME: Delivery worker: consume jobs, send via the platform adapter
// ABOUTME: Transient failures back off exponentially, terminal ones dead-letter once

package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/metrics"
	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/resilience"
	"github.com/halcyon-health/relay/internal/store"
)

const (
	defaultPollTimeout = 5 * time.Second

	// breakerRequeueDelay reschedules a job rejected by an open breaker.
	// The rejection does not count against the job's own attempt budget.
	breakerRequeueDelay = 30 * time.Second
)

// Adapters resolves a platform adapter by name. Satisfied by
// platform.Registry.
type Adapters interface {
	Get(name string) (platform.Adapter, error)
}

// AccountSource loads the account a job sends on behalf of.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

// Notifier publishes dashboard events. Satisfied by broadcast.Fanout.
type Notifier interface {
	Publish(ctx context.Context, event *broadcast.Event)
}

// Worker drains the delivery queue. Each job is sent at most
// policy.MaxAttempts times; the delay before attempt n is
// BaseDelay * 2^(n-1). Exhausted or non-transient jobs go to the
// dead-letter list with exactly one delivery_failed broadcast.
type Worker struct {
	queue    Queue
	adapters Adapters
	accounts AccountSource
	notifier Notifier
	policy   resilience.RetryPolicy
	logger   *slog.Logger

	pollTimeout time.Duration
}

func NewWorker(queue Queue, adapters Adapters, accounts AccountSource, notifier Notifier, policy resilience.RetryPolicy, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:       queue,
		adapters:    adapters,
		accounts:    accounts,
		notifier:    notifier,
		policy:      policy,
		logger:      logger.With("component", "deliver"),
		pollTimeout: defaultPollTimeout,
	}
}

// Run consumes jobs until ctx is cancelled. A panicking job is logged and
// dropped; it never takes the worker down.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started", "max_attempts", w.policy.MaxAttempts)
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("delivery worker stopping")
			return err
		}

		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}
		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic delivering job",
				"job_id", job.ID,
				"message_id", job.MessageID,
				"panic", r)
		}
	}()
	w.Process(ctx, job)
}

// Process handles one job to completion: sent, rescheduled, or
// dead-lettered.
func (w *Worker) Process(ctx context.Context, job *Job) {
	err := w.send(ctx, job)
	if err == nil {
		metrics.DeliveriesTotal.WithLabelValues(job.Platform, "sent").Inc()
		metrics.DeliveryAttempts.WithLabelValues(job.Platform).Observe(float64(job.Attempt + 1))
		w.logger.Info("delivered",
			"job_id", job.ID,
			"message_id", job.MessageID,
			"platform", job.Platform,
			"attempt", job.Attempt+1)
		return
	}

	job.LastError = err.Error()

	if errors.Is(err, resilience.ErrBreakerOpen) {
		// The platform is already known bad; parking the job costs nothing
		// and does not burn an attempt
		w.logger.Warn("breaker open, parking job",
			"job_id", job.ID,
			"platform", job.Platform)
		if qErr := w.queue.EnqueueDelayed(ctx, job, breakerRequeueDelay); qErr != nil {
			w.logger.Error("failed to park job, dead-lettering", "job_id", job.ID, "error", qErr)
			w.terminal(ctx, job)
		}
		return
	}

	attemptsMade := job.Attempt + 1
	if resilience.IsTransient(err) && attemptsMade < w.policy.MaxAttempts {
		delay := w.policy.Delay(job.Attempt)
		job.Attempt = attemptsMade
		metrics.DeliveriesTotal.WithLabelValues(job.Platform, "retried").Inc()
		w.logger.Warn("delivery failed, retrying",
			"job_id", job.ID,
			"message_id", job.MessageID,
			"attempt", attemptsMade,
			"delay", delay,
			"error", err)
		if qErr := w.queue.EnqueueDelayed(ctx, job, delay); qErr != nil {
			w.logger.Error("failed to reschedule job, dead-lettering", "job_id", job.ID, "error", qErr)
			w.terminal(ctx, job)
		}
		return
	}

	w.logger.Error("delivery failed terminally",
		"job_id", job.ID,
		"message_id", job.MessageID,
		"platform", job.Platform,
		"attempts", attemptsMade,
		"transient", resilience.IsTransient(err),
		"error", err)
	w.terminal(ctx, job)
}

func (w *Worker) send(ctx context.Context, job *Job) error {
	account, err := w.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", job.AccountID, err)
	}
	adapter, err := w.adapters.Get(job.Platform)
	if err != nil {
		return err
	}
	if _, err := adapter.SendMessage(ctx, account, job.RecipientID, job.Text, nil); err != nil {
		return err
	}
	return nil
}

// terminal dead-letters the job and broadcasts exactly one delivery_failed
// event to the clinic's dashboards.
func (w *Worker) terminal(ctx context.Context, job *Job) {
	metrics.DeliveriesTotal.WithLabelValues(job.Platform, "dead_lettered").Inc()
	if err := w.queue.DeadLetter(ctx, job); err != nil {
		w.logger.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
	}
	if w.notifier != nil {
		w.notifier.Publish(ctx, broadcast.DeliveryFailedEvent(job.ClinicID, job.ConversationID, job.MessageID, job.Platform))
	}
}
