// Package redis implements the JobQueue port on Redis Streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

const (
	// Stream names
	jobStream     = "semdex:jobs"
	jobGroup      = "semdex:workers"
	scheduledJobs = "semdex:scheduled"
	deadJobs      = "semdex:dead"

	// Key prefixes
	jobKeyPrefix = "semdex:job:"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// Job blob TTL. Finished jobs stay inspectable for a day, then Redis
	// drops them even without an explicit purge.
	jobTTL = 24 * time.Hour

	// Claim timeout - how long before an in-flight job is considered
	// abandoned by a crashed worker
	claimTimeout = 5 * time.Minute
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using Redis Streams.
// The consumer group tracks in-flight deliveries, a sorted set holds jobs
// waiting out their backoff, and a plain set records dead-lettered job IDs.
type Queue struct {
	client       *redis.Client
	consumerName string
}

// NewQueue creates a new Redis-backed job queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(client *redis.Client, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
	}

	// Create consumer group if it doesn't exist
	ctx := context.Background()
	err := q.client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue adds a job to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if job == nil {
		return errors.New("job is required")
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, jobData, jobTTL)
	q.routeJob(ctx, pipe, job, time.Now())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple jobs to the queue atomically.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.IngestionJob) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	now := time.Now()

	for _, job := range jobs {
		if job == nil {
			continue
		}

		jobData, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}

		pipe.Set(ctx, jobKeyPrefix+job.ID, jobData, jobTTL)
		q.routeJob(ctx, pipe, job, now)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return nil
}

// routeJob sends a job either to the stream for immediate delivery or to
// the scheduled set when its delivery time is in the future.
func (q *Queue) routeJob(ctx context.Context, pipe redis.Pipeliner, job *domain.IngestionJob, now time.Time) {
	if job.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: job.ID,
		})
		return
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{
			"job_id":      job.ID,
			"document_id": job.Document.DocumentID,
			"source_kind": string(job.Document.SourceKind),
		},
	})
}

// DequeueWithTimeout retrieves the next deliverable job, waiting up to
// timeout seconds. Returns nil, nil when nothing is available.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestionJob, error) {
	// Promote any jobs whose backoff has elapsed. Best effort: a failure
	// here only delays redelivery until the next dequeue.
	if err := q.promoteScheduledJobs(ctx); err != nil {
		_ = err
	}

	// Recover deliveries abandoned by crashed workers before reading new ones
	job, err := q.claimAbandonedJob(ctx)
	if err == nil && job != nil {
		return job, nil
	}

	blockDuration := time.Duration(timeout) * time.Second
	if timeout == 0 {
		blockDuration = 0 // Block forever
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumerName,
		Streams:  []string{jobStream, ">"},
		Count:    1,
		Block:    blockDuration,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	return q.activateDelivery(ctx, msg)
}

// activateDelivery loads the job blob for a stream message, marks it active,
// and records the message ID for the eventual ack or nack.
func (q *Queue) activateDelivery(ctx context.Context, msg redis.XMessage) (*domain.IngestionJob, error) {
	jobID, ok := msg.Values["job_id"].(string)
	if !ok {
		// Malformed message, acknowledge and skip
		q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
		q.client.XDel(ctx, jobStream, msg.ID)
		return nil, nil
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}
	if job == nil {
		// Blob expired or purged, nothing to process
		q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
		q.client.XDel(ctx, jobStream, msg.ID)
		return nil, nil
	}

	job.MarkActive()

	jobData, _ := json.Marshal(job)
	q.client.Set(ctx, jobKeyPrefix+job.ID, jobData, jobTTL)
	q.client.Set(ctx, jobKeyPrefix+job.ID+":msg", msg.ID, jobTTL)

	return job, nil
}

// Ack acknowledges successful completion of a job.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	msgID, err := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	pipe := q.client.Pipeline()

	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	job, err := q.GetJob(ctx, jobID)
	if err == nil && job != nil {
		job.MarkCompleted()
		jobData, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobTTL)
	}

	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack reports a failure. Transient failures re-queue with the job's
// backoff until the attempt cap, then dead-letter. Permanent failures go
// straight to failed with no retry.
func (q *Queue) Nack(ctx context.Context, jobID string, reason string, permanent bool) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}

	msgID, _ := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()

	pipe := q.client.Pipeline()

	// Acknowledge the current delivery; redelivery goes through the
	// scheduled set, never through stream pending entries.
	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	// Dead jobs outlive the normal TTL so they stay replayable
	blobTTL := jobTTL

	switch {
	case permanent:
		job.MarkFailed(reason)
	case job.CanRetry():
		job.ScheduleRetry(reason)
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: job.ID,
		})
	default:
		job.MarkDead(reason)
		pipe.SAdd(ctx, deadJobs, job.ID)
		blobTTL = 0
	}

	jobData, _ := json.Marshal(job)
	pipe.Set(ctx, jobKeyPrefix+jobID, jobData, blobTTL)
	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns nil, nil when unknown.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.IngestionJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// ListDead returns the IDs of dead-lettered jobs.
func (q *Queue) ListDead(ctx context.Context) ([]string, error) {
	ids, err := q.client.SMembers(ctx, deadJobs).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	return ids, nil
}

// ReplayDead resets a dead job's attempt budget and re-enqueues it.
func (q *Queue) ReplayDead(ctx context.Context, jobID string) error {
	isDead, err := q.client.SIsMember(ctx, deadJobs, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to check dead set: %w", err)
	}
	if !isDead {
		return fmt.Errorf("%w: job %s is not dead-lettered", domain.ErrNotFound, jobID)
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Blob lost; nothing to replay, drop the dangling reference
		q.client.SRem(ctx, deadJobs, jobID)
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}

	job.ResetForReplay()
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.SRem(ctx, deadJobs, jobID)
	pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobTTL)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{
			"job_id":      job.ID,
			"document_id": job.Document.DocumentID,
			"source_kind": string(job.Document.SourceKind),
		},
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replay job: %w", err)
	}
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	info, err := q.client.XInfoStream(ctx, jobStream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if !isStreamNotExistsError(err) {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
	} else if err == nil {
		stats.QueuedCount = info.Length
	}

	scheduledCount, err := q.client.ZCard(ctx, scheduledJobs).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get scheduled count: %w", err)
	}
	stats.QueuedCount += scheduledCount

	groups, err := q.client.XInfoGroups(ctx, jobStream).Result()
	if err == nil {
		for _, group := range groups {
			if group.Name == jobGroup {
				stats.ActiveCount = group.Pending
				// In-flight deliveries still count toward stream length
				stats.QueuedCount -= group.Pending
				break
			}
		}
	}

	deadCount, err := q.client.SCard(ctx, deadJobs).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get dead count: %w", err)
	}
	stats.DeadCount = deadCount

	// Completed/failed counts need a key scan. Expensive, but Stats is an
	// operator path, not a hot path.
	var cursor uint64
	pattern := jobKeyPrefix + "*"

	for {
		keys, newCursor, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			break
		}

		for _, key := range keys {
			if strings.HasSuffix(key, ":msg") {
				continue
			}

			data, _ := q.client.Get(ctx, key).Result()
			var job domain.IngestionJob
			if json.Unmarshal([]byte(data), &job) == nil {
				switch job.Status {
				case domain.JobStatusCompleted:
					stats.CompletedCount++
				case domain.JobStatusFailed:
					stats.FailedCount++
				}
			}
		}

		cursor = newCursor
		if cursor == 0 {
			break
		}
	}

	return stats, nil
}

// PurgeFinished removes completed/failed job blobs older than the given age.
func (q *Queue) PurgeFinished(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var purged int

	var cursor uint64
	pattern := jobKeyPrefix + "*"

	for {
		keys, newCursor, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return purged, fmt.Errorf("failed to scan jobs: %w", err)
		}

		for _, key := range keys {
			if strings.HasSuffix(key, ":msg") {
				continue
			}

			data, err := q.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}

			var job domain.IngestionJob
			if err := json.Unmarshal([]byte(data), &job); err != nil {
				continue
			}

			if (job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed) &&
				job.UpdatedAt.Before(cutoff) {
				q.client.Del(ctx, key)
				purged++
			}
		}

		cursor = newCursor
		if cursor == 0 {
			break
		}
	}

	return purged, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

// promoteScheduledJobs moves due jobs from the scheduled set to the stream.
func (q *Queue) promoteScheduledJobs(ctx context.Context) error {
	now := time.Now().Unix()

	due, err := q.client.ZRangeByScore(ctx, scheduledJobs, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()

	for _, jobID := range due {
		job, err := q.GetJob(ctx, jobID)
		if err != nil || job == nil {
			pipe.ZRem(ctx, scheduledJobs, jobID)
			continue
		}

		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: jobStream,
			Values: map[string]interface{}{
				"job_id":      job.ID,
				"document_id": job.Document.DocumentID,
				"source_kind": string(job.Document.SourceKind),
			},
		})
		pipe.ZRem(ctx, scheduledJobs, jobID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// claimAbandonedJob tries to take over a delivery another worker left
// pending past the claim timeout.
func (q *Queue) claimAbandonedJob(ctx context.Context) (*domain.IngestionJob, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumerName,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		job, err := q.activateDelivery(ctx, claimed[0])
		if err != nil || job == nil {
			continue
		}
		return job, nil
	}

	return nil, nil
}

// Helper functions

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isStreamNotExistsError(err error) bool {
	return err != nil && (err.Error() == "ERR no such key" ||
		err.Error() == "ERR The XINFO subcommand requires the key to exist")
}
