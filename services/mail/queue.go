package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull   = errors.New("mail queue is full")
	ErrQueueClosed = errors.New("mail queue is closed")
)

// Job is one templated email waiting for delivery.
type Job struct {
	ID       string
	Template string
	To       []string
	Subject  string
	Data     TemplateData
	Attempts int
}

type Deliverer interface {
	SendTemplate(ctx context.Context, templateName string, to []string, subject string, data TemplateData) error
}

type DeliveryObserver interface {
	ObserveMailDelivery(template string, err error)
}

// Queue sends mail in the background. Enqueue never blocks; delivery is
// paced by a token bucket and retried up to MaxAttempts.
type Queue struct {
	deliverer     Deliverer
	logger        *logging.Service
	observer      DeliveryObserver
	jobs          chan Job
	limiter       *rate.Limiter
	workers       int
	maxAttempts   int
	retryInterval time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

func NewQueue(cfg *config.MailConfig, deliverer Deliverer, logger *logging.Service) *Queue {
	workers := max(cfg.Workers, 1)
	size := max(cfg.QueueSize, 1)
	burst := max(cfg.SendBurst, 1)

	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}

	return &Queue{
		deliverer:     deliverer,
		logger:        logger,
		jobs:          make(chan Job, size),
		limiter:       rate.NewLimiter(limit, burst),
		workers:       workers,
		maxAttempts:   max(cfg.MaxAttempts, 1),
		retryInterval: cfg.RetryInterval,
	}
}

func (q *Queue) SetObserver(observer DeliveryObserver) {
	q.observer = observer
}

// Enqueue accepts a job for later delivery and returns its id.
func (q *Queue) Enqueue(job Job) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case q.jobs <- job:
		if q.logger != nil {
			q.logger.Debug("mail job enqueued",
				zap.String("job_id", job.ID),
				zap.String("template", job.Template))
		}
		return job.ID, nil
	default:
		if q.logger != nil {
			q.logger.Warn("mail queue full, job rejected",
				zap.String("template", job.Template),
				zap.Int("capacity", cap(q.jobs)))
		}
		return "", ErrQueueFull
	}
}

// Len is the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.group, runCtx = errgroup.WithContext(runCtx)

	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			q.work(runCtx)
			return nil
		})
	}

	if q.logger != nil {
		q.logger.Info("mail queue started",
			zap.Int("workers", q.workers),
			zap.Int("capacity", cap(q.jobs)))
	}
}

// Stop refuses new jobs and waits for queued ones to be delivered. When ctx
// ends first the remaining jobs are abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- q.group.Wait()
	}()

	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		<-done
		if q.logger != nil {
			q.logger.Warn("mail queue stopped before draining", zap.Int("abandoned", len(q.jobs)))
		}
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	for job := range q.jobs {
		if ctx.Err() != nil {
			continue
		}
		q.deliver(ctx, job)
	}
}

func (q *Queue) deliver(ctx context.Context, job Job) {
	var err error
	for job.Attempts < q.maxAttempts {
		if err = q.limiter.Wait(ctx); err != nil {
			break
		}

		job.Attempts++
		err = q.deliverer.SendTemplate(ctx, job.Template, job.To, job.Subject, job.Data)
		if err == nil {
			break
		}

		if q.logger != nil {
			q.logger.Warn("mail delivery attempt failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempts),
				zap.Error(err))
		}

		if job.Attempts < q.maxAttempts {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(q.retryInterval * time.Duration(job.Attempts)):
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	if q.observer != nil {
		q.observer.ObserveMailDelivery(job.Template, err)
	}

	if q.logger == nil {
		return
	}
	if err != nil {
		q.logger.Error("mail job dropped",
			zap.String("job_id", job.ID),
			zap.String("template", job.Template),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		return
	}
	q.logger.Info("mail job delivered",
		zap.String("job_id", job.ID),
		zap.String("template", job.Template),
		zap.Int("attempts", job.Attempts))
}
