package index_test

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docdex/dbopen"
	"github.com/hazyhaar/docdex/etl"
	"github.com/hazyhaar/docdex/index"
)

func newStore(t *testing.T, opts ...index.Option) *index.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := index.NewStore(db, opts...)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func paragraph(docID, ownerID, title, text string, page, total int) etl.SearchDoc {
	return etl.SearchDoc{
		DocID: docID, OwnerID: ownerID, Type: "paragraph",
		Title: title, Text: text, PageNumber: page, TotalPages: total,
	}
}

func TestIndexAndCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	res, err := s.Index(ctx, []etl.SearchDoc{
		paragraph("d1", "u1", "Introduction", "Sales grew by ten percent.", 1, 2),
		paragraph("d1", "u1", "Conclusion", "The outlook remains positive.", 2, 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestIndexEmptyBatch(t *testing.T) {
	s := newStore(t)
	if _, err := s.Index(context.Background(), nil); err == nil {
		t.Fatal("empty batch must error")
	}
}

func TestIndexPartialFailure(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	res, err := s.Index(ctx, []etl.SearchDoc{
		paragraph("d1", "u1", "", "good row", 1, 1),
		{Type: "paragraph", Text: "missing identity"}, // no pdf_id/user_id
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the call: %v", err)
	}
	if res.Indexed != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 indexed / 1 failed", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestIndexAllRejected(t *testing.T) {
	s := newStore(t)
	_, err := s.Index(context.Background(), []etl.SearchDoc{
		{Type: "paragraph", Text: "no identity"},
	})
	if err == nil {
		t.Fatal("batch with zero successes must error")
	}
}

func TestReindexDuplicatesWithoutDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc := paragraph("d1", "u1", "", "same content", 1, 1)

	s.Index(ctx, []etl.SearchDoc{doc})
	s.Index(ctx, []etl.SearchDoc{doc})

	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("count = %d, want 2 (no storage-level dedup)", n)
	}

	deleted, err := s.DeleteByDoc(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	n, _ = s.Count(ctx)
	if n != 0 {
		t.Fatalf("count after delete = %d, want 0", n)
	}
}

// --- search ---

type staticResolver map[string][]string

func (r staticResolver) LookupByFilename(_ context.Context, _, filename string) ([]string, error) {
	return r[filename], nil
}

func seedSearch(t *testing.T) *index.Store {
	t.Helper()
	s := newStore(t, index.WithFilenameResolver(staticResolver{
		"report.pdf": {"d1"},
		"other.pdf":  {"d9"},
	}))
	ctx := context.Background()

	docs := []etl.SearchDoc{
		paragraph("d1", "u1", "Introduction", "Quarterly sales grew by ten percent in Europe.", 1, 3),
		paragraph("d1", "u1", "Conclusion", "The outlook remains positive.", 3, 3),
		{
			DocID: "d1", OwnerID: "u1", Type: "table", PageNumber: 2, TotalPages: 3,
			Text: "1 | Widget | 100 | $500",
			Table: []etl.TableRow{
				{RowNumber: 1, Row: map[string]string{"id": "1", "product_name": "Widget"}},
			},
		},
		{
			DocID: "d1", OwnerID: "u1", Type: "image", PageNumber: 2, TotalPages: 3,
			Text:  "Figure 1: sample revenue chart",
			Image: &etl.ImageData{Caption: "Figure 1: sample revenue chart"},
		},
		paragraph("d2", "u2", "Private", "Another owner's sample document.", 1, 1),
	}
	if _, err := s.Index(ctx, docs); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSearchFreeTextRoundTrip(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Query:   "quarterly sales",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Hits) != 1 {
		t.Fatalf("total = %d, hits = %d, want 1/1", resp.Total, len(resp.Hits))
	}

	h := resp.Hits[0]
	if h.DocID != "d1" || h.Type != "paragraph" || h.PageNumber != 1 {
		t.Fatalf("hit = %+v", h)
	}
	if h.HighlightedText == "" {
		t.Fatal("free-text hits must carry a highlighted snippet")
	}
	if h.Score <= 0 {
		t.Fatalf("score = %f, want > 0", h.Score)
	}
}

func TestSearchOwnerIsolation(t *testing.T) {
	s := seedSearch(t)

	// "sample" appears in u1's image caption and in u2's paragraph; the
	// owner filter must keep them apart.
	resp, err := s.Search(context.Background(), index.Request{OwnerID: "u2", Query: "sample"})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range resp.Hits {
		if h.OwnerID != "u2" {
			t.Fatalf("leaked hit for owner %q", h.OwnerID)
		}
	}
	if resp.Total != 1 {
		t.Fatalf("total = %d, want 1", resp.Total)
	}
}

func TestSearchImageFieldSet(t *testing.T) {
	s := seedSearch(t)

	// type=image must search image caption/text, not title/text.
	resp, err := s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Query:   "sample",
		Type:    "image",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(resp.Hits))
	}
	h := resp.Hits[0]
	if h.Type != "image" || h.ImageData == nil {
		t.Fatalf("hit = %+v, want image payload", h)
	}
	if h.ImageData.Caption != "Figure 1: sample revenue chart" {
		t.Fatalf("caption = %q", h.ImageData.Caption)
	}

	// The same term restricted to paragraphs must not match the caption.
	resp, err = s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Query:   "sample",
		Type:    "paragraph",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 0 {
		t.Fatalf("got %d paragraph hits for caption-only term", len(resp.Hits))
	}
}

func TestSearchTablePayload(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{OwnerID: "u1", Query: "widget"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(resp.Hits))
	}
	h := resp.Hits[0]
	if h.Type != "table" || len(h.TableData) != 1 {
		t.Fatalf("hit = %+v", h)
	}
	if h.TableData[0].Row["product_name"] != "Widget" {
		t.Fatalf("table row = %v", h.TableData[0].Row)
	}
}

func TestSearchNoFilterFails(t *testing.T) {
	s := seedSearch(t)

	_, err := s.Search(context.Background(), index.Request{OwnerID: "u1"})
	if !errors.Is(err, index.ErrNoFilter) {
		t.Fatalf("got %v, want ErrNoFilter", err)
	}

	_, err = s.Search(context.Background(), index.Request{Query: "sales"})
	if !errors.Is(err, index.ErrNoOwner) {
		t.Fatalf("got %v, want ErrNoOwner", err)
	}
}

func TestSearchFilenameFilter(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{
		OwnerID:  "u1",
		Filename: "report.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 4 {
		t.Fatalf("total = %d, want all 4 of d1's docs", resp.Total)
	}

	// Unknown filename resolves to no doc ids: empty result, not an error.
	resp, err = s.Search(context.Background(), index.Request{
		OwnerID:  "u1",
		Filename: "missing.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 || len(resp.Hits) != 0 {
		t.Fatalf("resp = %+v, want empty", resp)
	}
}

func TestSearchStructuredFilterAndSort(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{
		OwnerID:   "u1",
		Type:      "paragraph",
		SortBy:    "page_number",
		SortOrder: "desc",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(resp.Hits))
	}
	if resp.Hits[0].PageNumber != 3 || resp.Hits[1].PageNumber != 1 {
		t.Fatalf("sort order wrong: pages %d, %d", resp.Hits[0].PageNumber, resp.Hits[1].PageNumber)
	}
}

func TestSearchUnknownSortFallsBack(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Query:   "outlook",
		SortBy:  "alphabetical-ish",
	})
	if err != nil {
		t.Fatalf("unknown sort key must not error: %v", err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(resp.Hits))
	}
}

func TestSearchPagination(t *testing.T) {
	s := seedSearch(t)

	resp, err := s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Type:    "paragraph",
		SortBy:  "page_number",
		Size:    1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Hits) != 1 {
		t.Fatalf("total = %d, hits = %d, want 2/1", resp.Total, len(resp.Hits))
	}
	first := resp.Hits[0].PageNumber

	resp, err = s.Search(context.Background(), index.Request{
		OwnerID: "u1",
		Type:    "paragraph",
		SortBy:  "page_number",
		Size:    1,
		From:    1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].PageNumber == first {
		t.Fatalf("pagination did not advance: %+v", resp.Hits)
	}
}
