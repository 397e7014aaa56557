package status_test

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docdex/dbopen"
	"github.com/hazyhaar/docdex/status"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]status.Status{
		{status.Queued, status.Parsing},
		{status.Parsing, status.Transform},
		{status.Parsing, status.Failed},
		{status.Transform, status.Ready},
		{status.Transform, status.Failed},
		{status.Failed, status.Queued},
	}
	for _, tc := range legal {
		if !status.CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be legal", tc[0], tc[1])
		}
	}

	illegal := [][2]status.Status{
		{status.Ready, status.Parsing},
		{status.Ready, status.Queued},
		{status.Queued, status.Ready},
		{status.Parsing, status.Queued},
		{status.Transform, status.Parsing},
		{status.Queued, status.Failed},
	}
	for _, tc := range illegal {
		if status.CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be illegal", tc[0], tc[1])
		}
	}
}

func TestParse(t *testing.T) {
	if st, err := status.Parse("transform"); err != nil || st != status.Transform {
		t.Fatalf("Parse(transform) = %v, %v", st, err)
	}
	if _, err := status.Parse("bogus"); err == nil {
		t.Fatal("Parse(bogus) should fail")
	}
}

func newStore(t *testing.T) *status.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := status.NewStore(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSuccessfulRunIsMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	doc := &status.Document{ID: "d1", OwnerID: "u1", Filename: "report.pdf"}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.Status != status.Queued {
		t.Fatalf("created status = %s, want queued", doc.Status)
	}

	for _, next := range []status.Status{status.Parsing, status.Transform, status.Ready} {
		if err := s.SetStatus(ctx, "d1", next); err != nil {
			t.Fatalf("-> %s: %v", next, err)
		}
	}

	// Ready is terminal: revisiting queued must fail.
	err := s.SetStatus(ctx, "d1", status.Queued)
	if !errors.Is(err, status.ErrBadTransition) {
		t.Fatalf("ready -> queued: got %v, want ErrBadTransition", err)
	}

	got, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != status.Ready {
		t.Fatalf("status = %s, want ready", got.Status)
	}
}

func TestMarkFailed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Create(ctx, &status.Document{ID: "d1", OwnerID: "u1"})
	s.SetStatus(ctx, "d1", status.Parsing)

	if err := s.MarkFailed(ctx, "d1", "pdfcpu read: corrupt xref"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "d1")
	if got.Status != status.Failed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("failed document must carry an error reason")
	}

	// Re-processing: failed -> queued clears the error.
	if err := s.SetStatus(ctx, "d1", status.Queued); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "d1")
	if got.Error != "" {
		t.Fatalf("error = %q, want cleared", got.Error)
	}
}

func TestMarkFailedFromQueuedIsIllegal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Create(ctx, &status.Document{ID: "d1", OwnerID: "u1"})
	err := s.MarkFailed(ctx, "d1", "nope")
	if !errors.Is(err, status.ErrBadTransition) {
		t.Fatalf("got %v, want ErrBadTransition", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLookupByFilename(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Create(ctx, &status.Document{ID: "d1", OwnerID: "u1", Filename: "report.pdf"})
	s.Create(ctx, &status.Document{ID: "d2", OwnerID: "u1", Filename: "report.pdf"})
	s.Create(ctx, &status.Document{ID: "d3", OwnerID: "u2", Filename: "report.pdf"})

	ids, err := s.LookupByFilename(ctx, "u1", "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2 (other owners excluded)", len(ids))
	}
}

func TestCountByStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Create(ctx, &status.Document{ID: "d1", OwnerID: "u1"})
	s.Create(ctx, &status.Document{ID: "d2", OwnerID: "u1"})
	s.SetStatus(ctx, "d2", status.Parsing)

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[status.Queued] != 1 || counts[status.Parsing] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
