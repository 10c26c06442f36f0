package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
)

const (
	TaskTypeEmail        = "email:send"
	TaskTypeTokenCleanup = "tokens:cleanup"
)

// EmailTask represents one mail waiting for delivery
type EmailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TaskQueue defines the interface for background task processing
type TaskQueue interface {
	// EnqueueEmail queues a mail for delivery
	EnqueueEmail(task *EmailTask) error
	// EnqueueTokenCleanup queues a sweep of expired refresh tokens
	EnqueueTokenCleanup() error
	// IsAsync returns true if the queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	_, err := inspector.Queues()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// EnqueueEmail adds a mail task to the async queue
func (q *AsyncQueue) EnqueueEmail(task *EmailTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeEmail, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Email task enqueued: id=%s, queue=%s", info.ID, info.Queue)
	return nil
}

// EnqueueTokenCleanup adds a token cleanup sweep to the async queue
func (q *AsyncQueue) EnqueueTokenCleanup() error {
	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeTokenCleanup, nil),
		asynq.Queue("default"),
		asynq.MaxRetry(1),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Token cleanup enqueued: id=%s", info.ID)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue with synchronous processing (no Redis)
type SyncQueue struct {
	emailProcessor   func(context.Context, *EmailTask) error
	cleanupProcessor func(context.Context) error
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetEmailProcessor sets the function that delivers mail tasks
func (q *SyncQueue) SetEmailProcessor(processor func(context.Context, *EmailTask) error) {
	q.emailProcessor = processor
}

// SetCleanupProcessor sets the function that runs token cleanup
func (q *SyncQueue) SetCleanupProcessor(processor func(context.Context) error) {
	q.cleanupProcessor = processor
}

// EnqueueEmail processes the task immediately in a goroutine so the
// originating request does not block on SMTP
func (q *SyncQueue) EnqueueEmail(task *EmailTask) error {
	if q.emailProcessor == nil {
		logger.Infof("[SyncQueue] Warning: no email processor set, task will be dropped")
		return nil
	}

	go func() {
		ctx := context.Background()
		if err := q.emailProcessor(ctx, task); err != nil {
			logger.Infof("[SyncQueue] Email delivery failed: %v", err)
		}
	}()

	return nil
}

// EnqueueTokenCleanup runs the sweep immediately in a goroutine
func (q *SyncQueue) EnqueueTokenCleanup() error {
	if q.cleanupProcessor == nil {
		logger.Infof("[SyncQueue] Warning: no cleanup processor set, task will be dropped")
		return nil
	}

	go func() {
		if err := q.cleanupProcessor(context.Background()); err != nil {
			logger.Infof("[SyncQueue] Token cleanup failed: %v", err)
		}
	}()

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}
