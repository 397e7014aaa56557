package vtq_test

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docdex/dbopen"
	"github.com/hazyhaar/docdex/vtq"
)

func newQ(t *testing.T, db *sql.DB, opts vtq.Options) *vtq.Q {
	t.Helper()
	q := vtq.New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestPublishAndClaim(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{Visibility: time.Second})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != "j1" {
		t.Fatalf("got id %q, want j1", job.ID)
	}
	if string(job.Payload) != "hello" {
		t.Fatalf("got payload %q, want hello", string(job.Payload))
	}
	if job.Attempts != 1 {
		t.Fatalf("got attempts %d, want 1", job.Attempts)
	}

	// Second claim returns nil — job is invisible.
	job2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job2 != nil {
		t.Fatal("expected nil, job should be invisible")
	}
}

func TestAck(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{Visibility: time.Second})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	job, _ := q.Claim(ctx)
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	n, _ := q.Len(ctx)
	if n != 0 {
		t.Fatalf("queue should be empty after ack, got %d", n)
	}
}

func TestNack(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{Visibility: 10 * time.Second})
	ctx := context.Background()

	q.Publish(ctx, "j1", []byte("retry-me"))
	job, _ := q.Claim(ctx)

	// Nack makes it visible again immediately.
	if err := q.Nack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	job2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job2 == nil {
		t.Fatal("expected job after nack")
	}
	if job2.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", job2.Attempts)
	}
}

func TestVisibilityExpiry(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{Visibility: 30 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	if job, _ := q.Claim(ctx); job == nil {
		t.Fatal("first claim should succeed")
	}

	time.Sleep(60 * time.Millisecond)

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("job should reappear after visibility expires")
	}
	if job.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", job.Attempts)
	}
}

func TestBuryAndRedrive(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{Visibility: time.Second})
	ctx := context.Background()

	q.Publish(ctx, "j1", []byte("poison"))
	job, _ := q.Claim(ctx)

	if err := q.Bury(ctx, job, "index unavailable"); err != nil {
		t.Fatal(err)
	}

	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty after bury, got %d", n)
	}
	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(dead))
	}
	if dead[0].ID != "j1" || dead[0].LastError != "index unavailable" {
		t.Fatalf("dead letter = %+v", dead[0])
	}

	if err := q.Redrive(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.DeadLen(ctx); n != 0 {
		t.Fatalf("dead queue should be empty after redrive, got %d", n)
	}
	job2, _ := q.Claim(ctx)
	if job2 == nil || string(job2.Payload) != "poison" {
		t.Fatalf("redriven job = %+v", job2)
	}
	if job2.Attempts != 1 {
		t.Fatalf("redrive must reset attempts, got %d", job2.Attempts)
	}
}

func TestRunProcessesSequentially(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{
		Visibility:   time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		q.Publish(ctx, id, []byte(id))
	}

	var order []string
	inFlight := 0
	done := make(chan struct{})
	go q.Run(ctx, func(_ context.Context, job *vtq.Job) error {
		inFlight++
		if inFlight > 1 {
			t.Error("more than one job in flight")
		}
		order = append(order, job.ID)
		inFlight--
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
	cancel()

	if len(order) != 3 {
		t.Fatalf("processed %d jobs, want 3", len(order))
	}
}

func TestRunDeadLettersAfterMaxAttempts(t *testing.T) {
	db := dbopen.OpenMemory(t)
	q := newQ(t, db, vtq.Options{
		Visibility:   time.Second,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Publish(ctx, "poison", nil)

	var attempts atomic.Int32
	go q.Run(ctx, func(context.Context, *vtq.Job) error {
		attempts.Add(1)
		return errors.New("always fails")
	})

	deadline := time.After(5 * time.Second)
	for {
		if n, _ := q.DeadLen(ctx); n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never dead-lettered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	if n := attempts.Load(); n != 3 {
		t.Fatalf("handler ran %d times, want 3", n)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty, got %d", n)
	}
}
