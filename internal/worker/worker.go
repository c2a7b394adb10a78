package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/kanjivoice/internal/cache"
	"github.com/bobarin/kanjivoice/internal/models"
	"github.com/bobarin/kanjivoice/internal/queue"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	defaultChunkSize      = 25 // readings resolved between progress updates
)

// Resolver is the part of the cache manager the worker drives.
type Resolver interface {
	ResolveAll(ctx context.Context, readings []models.Reading) []cache.ReadingResult
}

type Worker struct {
	queue          *queue.Queue
	resolver       Resolver
	dequeueTimeout time.Duration
	chunkSize      int
}

func New(q *queue.Queue, resolver Resolver) *Worker {
	return &Worker{
		queue:          q,
		resolver:       resolver,
		dequeueTimeout: defaultDequeueTimeout,
		chunkSize:      defaultChunkSize,
	}
}

type handlerFunc func(context.Context, *queue.Job, *models.BatchStatus) error

// Start begins processing batch jobs and blocks until ctx is done.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueGenerateAudio, w.handleGenerateAudio)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler handlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, w.dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Worker] Error dequeuing from %s: %v", queueName, err)
				time.Sleep(time.Second)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			w.runJob(ctx, job, handler)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job, handler handlerFunc) {
	log.Printf("[Worker] Processing job %s (type: %s, readings: %d)", job.ID, job.Type, len(job.Readings))

	status := &models.BatchStatus{
		ID:     job.ID,
		Status: models.JobStatusRunning,
		Total:  len(job.Readings),
	}
	if err := w.queue.SetStatus(ctx, status); err != nil {
		log.Printf("[Worker] Failed to update job status: %v", err)
	}

	err := handler(ctx, job, status)
	if err != nil {
		log.Printf("[Worker] Job %s failed: %v", job.ID, err)
		status.Status = models.JobStatusFailed
		status.Error = err.Error()
	} else {
		log.Printf("[Worker] Job %s completed (resolved=%d, cached=%d)", job.ID, status.Resolved, status.Cached)
		status.Status = models.JobStatusSucceeded
	}

	// Record the outcome even if the worker is shutting down.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.SetStatus(finalCtx, status); err != nil {
		log.Printf("[Worker] Failed to store final status for %s: %v", job.ID, err)
	}
}

// handleGenerateAudio resolves every reading of a batch, publishing progress
// after each chunk. Individual failures are counted; the batch fails if any
// reading failed.
func (w *Worker) handleGenerateAudio(ctx context.Context, job *queue.Job, status *models.BatchStatus) error {
	if job.Type != queue.JobTypeGenerateAudio {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}

	var lastErr error
	for start := 0; start < len(job.Readings); start += w.chunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch interrupted after %d readings: %w", start, err)
		}

		end := min(start+w.chunkSize, len(job.Readings))
		for _, r := range w.resolver.ResolveAll(ctx, job.Readings[start:end]) {
			switch {
			case r.Err != nil:
				status.Failed++
				lastErr = fmt.Errorf("%s (%s): %w", r.Reading.Literal, r.Reading.Text, r.Err)
				log.Printf("[Worker] Reading %s/%s failed: %v", r.Reading.Literal, r.Reading.Text, r.Err)
			case r.Result.Cached:
				status.Resolved++
				status.Cached++
			default:
				status.Resolved++
			}
		}

		if err := w.queue.SetStatus(ctx, status); err != nil {
			log.Printf("[Worker] Failed to publish progress for %s: %v", job.ID, err)
		}
	}

	if status.Failed > 0 {
		return fmt.Errorf("%d of %d readings failed, last: %w", status.Failed, status.Total, lastErr)
	}
	return nil
}
