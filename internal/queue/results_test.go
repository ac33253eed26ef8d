package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryResultsTrimEvictsOldest(t *testing.T) {
	store := NewMemoryResults()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 10; i++ {
		err := store.Put(ctx, fmt.Sprintf("id%d", i), Result{
			Status:   StatusQueued,
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if err := store.Trim(ctx, 4); err != nil {
		t.Fatalf("trim: %v", err)
	}

	for i := 0; i < 6; i++ {
		if _, ok, _ := store.Get(ctx, fmt.Sprintf("id%d", i)); ok {
			t.Fatalf("id%d should have been evicted", i)
		}
	}
	for i := 6; i < 10; i++ {
		if _, ok, _ := store.Get(ctx, fmt.Sprintf("id%d", i)); !ok {
			t.Fatalf("id%d should have survived", i)
		}
	}
}

func newTestRedisResults(t *testing.T) *RedisResults {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisResultsWithClient(client)
}

func TestRedisResultsRoundTrip(t *testing.T) {
	store := newTestRedisResults(t)
	ctx := context.Background()

	queued := time.Now().UTC().Truncate(time.Millisecond)
	want := Result{
		Status:   StatusCompleted,
		Project:  "demo",
		Chunk:    3,
		QueuedAt: queued,
		Error:    "",
	}
	if err := store.Put(ctx, "abc123", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("result missing")
	}
	if got.Status != want.Status || got.Project != want.Project || got.Chunk != want.Chunk {
		t.Fatalf("got %+v", got)
	}
	if !got.QueuedAt.Equal(queued) {
		t.Fatalf("queued at %v, want %v", got.QueuedAt, queued)
	}
}

func TestRedisResultsGetMissing(t *testing.T) {
	store := newTestRedisResults(t)
	if _, ok, err := store.Get(context.Background(), "nope"); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestRedisResultsDelete(t *testing.T) {
	store := newTestRedisResults(t)
	ctx := context.Background()

	if err := store.Put(ctx, "gone", Result{Status: StatusQueued, QueuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "gone"); ok {
		t.Fatalf("result survived delete")
	}

	// Deleting an unknown id is not an error.
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestRedisResultsTrimEvictsOldest(t *testing.T) {
	store := newTestRedisResults(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 10; i++ {
		err := store.Put(ctx, fmt.Sprintf("id%d", i), Result{
			Status:   StatusQueued,
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if err := store.Trim(ctx, 3); err != nil {
		t.Fatalf("trim: %v", err)
	}

	for i := 0; i < 7; i++ {
		if _, ok, _ := store.Get(ctx, fmt.Sprintf("id%d", i)); ok {
			t.Fatalf("id%d should have been evicted", i)
		}
	}
	for i := 7; i < 10; i++ {
		if _, ok, _ := store.Get(ctx, fmt.Sprintf("id%d", i)); !ok {
			t.Fatalf("id%d should have survived", i)
		}
	}
}

func TestWorkerWithRedisResults(t *testing.T) {
	store := newTestRedisResults(t)
	worker := NewWorker(func(ctx context.Context, item Item) (any, error) {
		return map[string]any{"echo": item.Text}, nil
	}, store)
	worker.Start()
	defer stopWorker(t, worker)

	id, done, err := worker.EnqueueWait(context.Background(), "hello", "p", 0, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-done

	result, ok := worker.Status(context.Background(), id)
	if !ok || result.Status != StatusCompleted {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}
}
