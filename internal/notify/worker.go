package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Worker consumes notification jobs and sends the emails.
type Worker struct {
	queue  Queue
	email  EmailSender
	logger *logging.Logger

	workers   int
	waitSecs  int
	batchSize int
	wg        sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithWorkerCount(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(w *Worker) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		w.waitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(w *Worker) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		w.batchSize = size
	}
}

func NewWorker(queue Queue, email EmailSender, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	w := &Worker{
		queue:     queue,
		email:     email,
		logger:    logger,
		workers:   defaultWorkerCount,
		waitSecs:  defaultWaitSeconds,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumers exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.batchSize, w.waitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive notification jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage deletes the message unless delivery failed transiently, in
// which case it is left for redelivery.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		w.logger.Error("failed to decode notification job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if err := w.process(ctx, env); err != nil {
		w.logger.Error("notification job failed", "error", err, "job_id", env.ID, "kind", env.Kind)
		return
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) process(ctx context.Context, env envelope) error {
	switch env.Kind {
	case kindBookingConfirmed:
		if env.Booking == nil {
			w.logger.Warn("booking confirmation without payload", "job_id", env.ID)
			return nil
		}
		if env.Booking.PatientEmail == "" {
			w.logger.Info("no patient email on booking, skipping confirmation", "booking_id", env.Booking.BookingID)
			return nil
		}
		return w.email.Send(ctx, ConfirmationEmail(*env.Booking))
	default:
		w.logger.Warn("unknown notification kind", "kind", env.Kind, "job_id", env.ID)
		return nil
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification job", "error", fmt.Errorf("notify: %w", err))
	}
}
