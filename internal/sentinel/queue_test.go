package sentinel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

func push(q *Queue, id string) string {
	return q.Push(notice.Envelope{ID: id, Role: notice.RoleObservation}, "test", []byte(id), time.Now())
}

func TestQueue_FIFOAndSingleInFlight(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	a := push(q, "a")
	push(q, "b")

	e, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.ID != a || !e.InFlight || string(e.Payload) != "a" {
		t.Errorf("first entry = %+v", e)
	}

	// b must wait while a is in flight.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := q.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next with entry in flight = %v, want deadline exceeded", err)
	}

	q.Done(a)
	e, err = q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.NoticeID != "b" {
		t.Errorf("second entry = %q, want b", e.NoticeID)
	}
}

func TestQueue_Requeue(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	a := push(q, "a")
	push(q, "b")
	if _, err := q.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	q.Requeue(a)

	list := q.List()
	if len(list) != 2 || list[0].NoticeID != "b" || list[1].NoticeID != "a" {
		t.Fatalf("order after requeue = %+v", list)
	}
	if list[1].Attempts != 1 || list[1].InFlight || list[1].State != StateQueued {
		t.Errorf("requeued entry = %+v", list[1])
	}
}

func TestQueue_ListOmitsPayload(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	push(q, "a")

	for _, e := range q.List() {
		if e.Payload != nil {
			t.Error("List leaked payload")
		}
	}
}

func TestQueue_ClearKeepsInFlight(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	a := push(q, "a")
	push(q, "b")
	push(q, "c")
	if _, err := q.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	q.SetState(a, StateParsing)

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	cur, ok := q.Current()
	if !ok || cur.ID != a || cur.State != StateParsing {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestQueue_NextWakesOnPush(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	got := make(chan Entry, 1)
	go func() {
		e, err := q.Next(context.Background())
		if err == nil {
			got <- e
		}
	}()
	time.Sleep(10 * time.Millisecond)
	push(q, "late")

	select {
	case e := <-got:
		if e.NoticeID != "late" {
			t.Errorf("NoticeID = %q", e.NoticeID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not wake on Push")
	}
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Next after Close = %v, want ErrQueueClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			push(q, "x")
		}()
		go func() {
			defer wg.Done()
			_ = q.List()
		}()
		go func() {
			defer wg.Done()
			_, _ = q.Current()
		}()
	}
	wg.Wait()
	if q.Len() != 20 {
		t.Errorf("Len = %d, want 20", q.Len())
	}
}
