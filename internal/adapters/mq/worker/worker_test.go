package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/strokeauth/internal/adapters/mq/queue"
	"github.com/okian/strokeauth/internal/adapters/mq/worker"
	"github.com/okian/strokeauth/internal/domain/model"
)

type mockQueue struct {
	ch chan queue.Attempt
}

func newMockQueue() *mockQueue {
	return &mockQueue{ch: make(chan queue.Attempt, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Attempt { return mq.ch }

func (mq *mockQueue) Close() error {
	close(mq.ch)
	return nil
}

type mockRecorder struct {
	mu       sync.Mutex
	recorded map[string]model.Attempt
	failFor  map[string]error
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{recorded: map[string]model.Attempt{}, failFor: map[string]error{}}
}

func (r *mockRecorder) RecordAttempt(_ context.Context, a model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[a.UserID]; err != nil {
		return err
	}
	r.recorded[a.ID] = a
	return nil
}

func (r *mockRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recorded)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker on a queue", t, func() {
		q := newMockQueue()
		rec := newMockRecorder()
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("audit-0"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When attempts arrive", func() {
			q.ch <- model.Attempt{ID: "a1", UserID: "alice"}
			q.ch <- model.Attempt{ID: "a2", UserID: "bob"}

			convey.Convey("Then they are recorded", func() {
				convey.So(eventually(func() bool { return rec.count() == 2 }), convey.ShouldBeTrue)
				convey.So(w.Processed(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the store fails", func() {
			rec.failFor["mallory"] = errors.New("disk full")
			q.ch <- model.Attempt{ID: "bad", UserID: "mallory"}
			q.ch <- model.Attempt{ID: "good", UserID: "alice"}

			convey.Convey("Then the worker keeps going", func() {
				convey.So(eventually(func() bool { return rec.count() == 1 }), convey.ShouldBeTrue)
				convey.So(eventually(func() bool { return w.Processed() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shutting down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a worker whose queue closes", t, func() {
		q := newMockQueue()
		w := worker.NewInMemoryWorker(q, newMockRecorder())
		done := make(chan struct{})
		go func() {
			w.Run(context.Background())
			close(done)
		}()
		_ = q.Close()

		convey.Convey("Then Run returns", func() {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("worker did not stop")
			}
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool draining a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(500))
		rec := newMockRecorder()
		pool := worker.NewPool(4, q, rec)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When many attempts are enqueued concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for j := 0; j < 40; j++ {
						q.Enqueue(ctx, model.Attempt{ID: fmt.Sprintf("a-%d-%d", id, j), UserID: "alice"})
					}
				}(i)
			}
			wg.Wait()

			convey.Convey("Then shutdown drains them all", func() {
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(rec.count(), convey.ShouldEqual, 200)
				convey.So(pool.Processed(), convey.ShouldEqual, 200)
			})
		})
	})

	convey.Convey("A pool with no explicit size uses a CPU-based default", t, func() {
		pool := worker.NewPool(0, newMockQueue(), newMockRecorder())
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
