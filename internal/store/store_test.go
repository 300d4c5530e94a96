package store

import (
	"testing"

	"kvstore/internal/skiplist"
)

func TestListPushPop(t *testing.T) {
	l := NewList()
	l.PushBack("x")
	l.PushBack("y")

	if v, ok := l.PopBack(); !ok || v != "y" {
		t.Fatalf("expected y, got %v ok=%v", v, ok)
	}
	if v, ok := l.PopBack(); !ok || v != "x" {
		t.Fatalf("expected x, got %v ok=%v", v, ok)
	}
	if _, ok := l.PopBack(); ok {
		t.Fatalf("expected empty list pop to fail")
	}
}

func TestHashSortedFields(t *testing.T) {
	h := NewHash()
	h.Set("f2", "v2")
	h.Set("f1", "v1")

	fields := h.SortedFields()
	if len(fields) != 2 || fields[0] != "f1" || fields[1] != "f2" {
		t.Fatalf("expected sorted [f1 f2], got %v", fields)
	}
}

func TestSetAddNoDuplicates(t *testing.T) {
	s := NewSet()
	if !s.Add("m") {
		t.Fatalf("expected first add to report new")
	}
	if s.Add("m") {
		t.Fatalf("expected duplicate add to report not-new")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
}

func TestSortedSetOverrideAndRange(t *testing.T) {
	z := NewSortedSet()
	z.Add("m", 1)
	z.Add("m", 5)

	if z.Len() != 1 {
		t.Fatalf("expected len 1 after override, got %d", z.Len())
	}
	score, ok := z.Score("m")
	if !ok || score != 5 {
		t.Fatalf("expected score 5, got %v", score)
	}

	z.Add("n", 2)
	z.Add("o", 3)
	members := z.Range(skiplist.Range{Min: 2, Max: 5})
	if len(members) != 3 {
		t.Fatalf("expected 3 members in [2,5], got %d", len(members))
	}
}

func TestCloneIndependence(t *testing.T) {
	l := NewList()
	l.PushBack("a")
	clone := l.Clone()
	clone.PushBack("b")
	if l.Len() != 1 {
		t.Fatalf("original list mutated by clone, len=%d", l.Len())
	}
}
