package projections

import "testing"

func TestPageEnvelopeSemantics(t *testing.T) {
	// 5 rows paged with size 2.
	first := NewPage([]string{"a", "b"}, 0, 2, 5)
	if first.TotalPages != 3 {
		t.Fatalf("totalPages = %d, want 3", first.TotalPages)
	}
	if !first.HasNext || first.HasPrevious {
		t.Fatalf("page 0: hasNext=%v hasPrevious=%v", first.HasNext, first.HasPrevious)
	}

	middle := NewPage([]string{"c", "d"}, 1, 2, 5)
	if !middle.HasNext || !middle.HasPrevious {
		t.Fatalf("page 1: hasNext=%v hasPrevious=%v", middle.HasNext, middle.HasPrevious)
	}

	last := NewPage([]string{"e"}, 2, 2, 5)
	if last.HasNext || !last.HasPrevious {
		t.Fatalf("page 2: hasNext=%v hasPrevious=%v", last.HasNext, last.HasPrevious)
	}
	if len(last.Items) != 1 {
		t.Fatalf("page 2 has %d items, want 1", len(last.Items))
	}
}

func TestEmptyResultPage(t *testing.T) {
	p := NewPage[string](nil, 0, 10, 0)
	if p.TotalPages != 0 || p.HasNext || p.HasPrevious {
		t.Fatalf("empty result: %+v", p)
	}
	if p.Items == nil {
		t.Fatalf("items should be an empty slice, not nil")
	}
}

func TestNormalizeClampsInputs(t *testing.T) {
	page, size := Normalize(-3, 0)
	if page != 0 || size != DefaultPageSize {
		t.Fatalf("normalize(-3, 0) = (%d, %d)", page, size)
	}
}
