package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTaskTypeConstants(t *testing.T) {
	if TaskTypeEmail != "email:send" {
		t.Errorf("TaskTypeEmail = %q, expected %q", TaskTypeEmail, "email:send")
	}
	if TaskTypeTokenCleanup != "tokens:cleanup" {
		t.Errorf("TaskTypeTokenCleanup = %q, expected %q", TaskTypeTokenCleanup, "tokens:cleanup")
	}
}

func TestSyncQueue_New(t *testing.T) {
	queue := NewSyncQueue()
	if queue == nil {
		t.Error("NewSyncQueue should not return nil")
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	queue := NewSyncQueue()
	if queue.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_Close(t *testing.T) {
	queue := NewSyncQueue()
	if err := queue.Close(); err != nil {
		t.Errorf("SyncQueue.Close() should return nil, got %v", err)
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()

	if err := queue.EnqueueEmail(&EmailTask{To: "user@example.com"}); err != nil {
		t.Errorf("EnqueueEmail without processor should not error, got %v", err)
	}
	if err := queue.EnqueueTokenCleanup(); err != nil {
		t.Errorf("EnqueueTokenCleanup without processor should not error, got %v", err)
	}
}

func TestSyncQueue_EmailProcessorRuns(t *testing.T) {
	queue := NewSyncQueue()

	var mu sync.Mutex
	var got *EmailTask
	done := make(chan struct{})

	queue.SetEmailProcessor(func(ctx context.Context, task *EmailTask) error {
		mu.Lock()
		got = task
		mu.Unlock()
		close(done)
		return nil
	})

	task := &EmailTask{To: "user@example.com", Subject: "Verify your email", Body: "hello"}
	if err := queue.EnqueueEmail(task); err != nil {
		t.Fatalf("EnqueueEmail: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("email processor was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.To != "user@example.com" || got.Subject != "Verify your email" {
		t.Errorf("unexpected task delivered: %+v", got)
	}
}

func TestSyncQueue_CleanupProcessorRuns(t *testing.T) {
	queue := NewSyncQueue()

	done := make(chan struct{})
	queue.SetCleanupProcessor(func(ctx context.Context) error {
		close(done)
		return nil
	})

	if err := queue.EnqueueTokenCleanup(); err != nil {
		t.Fatalf("EnqueueTokenCleanup: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup processor was not invoked")
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	queue := &AsyncQueue{}
	if !queue.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}
