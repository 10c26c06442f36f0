package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"github.com/rs/zerolog"
)

// Worker processes async tasks from the queue
type Worker struct {
	server           *asynq.Server
	mux              *asynq.ServeMux
	emailProcessor   func(context.Context, *EmailTask) error
	cleanupProcessor func(context.Context) error
	wg               sync.WaitGroup
	running          bool
	mu               sync.Mutex
	log              zerolog.Logger
}

// NewWorker creates a new worker instance
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	wlog := logger.With("worker")

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				wlog.Error().Err(err).Str("task", task.Type()).Msg("task processing failed")
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		log:    wlog,
	}
}

// SetEmailProcessor sets the function that delivers mail tasks
func (w *Worker) SetEmailProcessor(processor func(context.Context, *EmailTask) error) {
	w.emailProcessor = processor
}

// SetCleanupProcessor sets the function that runs token cleanup
func (w *Worker) SetCleanupProcessor(processor func(context.Context) error) {
	w.cleanupProcessor = processor
}

// Start begins processing tasks
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeEmail, w.handleEmailTask)
	w.mux.HandleFunc(TaskTypeTokenCleanup, w.handleCleanupTask)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		w.log.Info().Msg("starting async worker")
		if err := w.server.Run(w.mux); err != nil {
			w.log.Error().Err(err).Msg("worker server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.log.Info().Msg("shutting down")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	w.log.Info().Msg("shutdown complete")
}

// handleEmailTask delivers a single queued mail
func (w *Worker) handleEmailTask(ctx context.Context, t *asynq.Task) error {
	var task EmailTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.log.Error().Err(err).Msg("failed to unmarshal email task")
		return err
	}

	if w.emailProcessor == nil {
		w.log.Warn().Msg("no email processor set")
		return nil
	}

	return w.emailProcessor(ctx, &task)
}

// handleCleanupTask runs one token cleanup sweep
func (w *Worker) handleCleanupTask(ctx context.Context, t *asynq.Task) error {
	if w.cleanupProcessor == nil {
		w.log.Warn().Msg("no cleanup processor set")
		return nil
	}
	return w.cleanupProcessor(ctx)
}

// Global worker instance
var (
	globalWorker *Worker
	workerOnce   sync.Once
)

// InitWorker initializes the global worker
func InitWorker(cfg *config.RedisConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg)
	})
	return globalWorker
}

// GetWorker returns the global worker instance
func GetWorker() *Worker {
	return globalWorker
}
