package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/kanjivoice/internal/models"
)

const (
	QueueGenerateAudio = "queue:generate_audio"

	JobTypeGenerateAudio = "generate_audio"

	batchKeyPrefix = "batch:"
	batchStatusTTL = 7 * 24 * time.Hour
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID        `json:"id"`
	Type      string           `json:"type"`
	Readings  []models.Reading `json:"readings"`
	CreatedAt time.Time        `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when none arrived.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueGenerateAudio records a queued batch status and pushes the job.
func (q *Queue) EnqueueGenerateAudio(ctx context.Context, readings []models.Reading) (*models.BatchStatus, error) {
	job := &Job{
		ID:       uuid.New(),
		Type:     JobTypeGenerateAudio,
		Readings: readings,
	}

	status := &models.BatchStatus{
		ID:     job.ID,
		Status: models.JobStatusQueued,
		Total:  len(readings),
	}
	if err := q.SetStatus(ctx, status); err != nil {
		return nil, err
	}

	if err := q.Enqueue(ctx, QueueGenerateAudio, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue batch %s: %w", job.ID, err)
	}

	return status, nil
}

// ---------------------------------------------------------------------------
// Batch status
// ---------------------------------------------------------------------------

// SetStatus stores the batch progress record, stamping UpdatedAt.
func (q *Queue) SetStatus(ctx context.Context, status *models.BatchStatus) error {
	status.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal batch status: %w", err)
	}

	if err := q.client.Set(ctx, batchKeyPrefix+status.ID.String(), data, batchStatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to store batch status %s: %w", status.ID, err)
	}
	return nil
}

// GetStatus loads a batch progress record. It returns nil, nil for an unknown batch.
func (q *Queue) GetStatus(ctx context.Context, id uuid.UUID) (*models.BatchStatus, error) {
	data, err := q.client.Get(ctx, batchKeyPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch status %s: %w", id, err)
	}

	var status models.BatchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch status %s: %w", id, err)
	}
	return &status, nil
}
