package idgen_test

import (
	"strings"
	"testing"

	"github.com/hazyhaar/docdex/idgen"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := idgen.UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 {
			t.Fatalf("len(%q) = %d, want 36", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := idgen.UUIDv7()
	a, b := gen(), gen()
	if a >= b {
		t.Fatalf("ids not time-ordered: %q >= %q", a, b)
	}
}

func TestNanoID(t *testing.T) {
	gen := idgen.NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("len = %d, want 12", len(id))
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", c) {
			t.Fatalf("unexpected character %q in %q", c, id)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := idgen.Prefixed("doc_", idgen.NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("id %q missing prefix", id)
	}
	if len(id) != len("doc_")+8 {
		t.Fatalf("len = %d", len(id))
	}
}
