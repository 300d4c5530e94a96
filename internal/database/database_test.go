package database

import (
	"testing"
	"time"
)

func TestAddAndGetString(t *testing.T) {
	db := New()
	db.Add(FamilyString, "greeting", "", "hello")

	v, ok := db.Get(FamilyString, "greeting")
	if !ok || v != "hello" {
		t.Fatalf("expected hello, got %q ok=%v", v, ok)
	}
}

func TestSetOverwriteDropsExpiration(t *testing.T) {
	db := New()
	db.Add(FamilyString, "k", "", "v1")
	db.SetExpire(FamilyString, "k", -time.Second)
	if !db.Contains(FamilyString, "k") {
		t.Fatalf("expected k to exist")
	}

	db.Add(FamilyString, "k", "", "v2")
	if db.IsExpired(FamilyString, "k") {
		t.Fatalf("overwritten key should not carry the old expiration")
	}
}

func TestLazyExpirationOnGet(t *testing.T) {
	db := New()
	db.Add(FamilyString, "k", "", "v")
	db.SetExpire(FamilyString, "k", -time.Second)

	if _, ok := db.Get(FamilyString, "k"); ok {
		t.Fatalf("expected expired key to be invisible to Get")
	}
	if db.Contains(FamilyString, "k") {
		t.Fatalf("expected lazy deletion to have removed the key")
	}
}

func TestDelMissingSortedSetBranchAlwaysReportsSuccess(t *testing.T) {
	db := New()
	db.Add(FamilySortedSet, "z", "member", "1")

	ok := db.Del(FamilySortedSet, "z")
	if !ok {
		t.Fatalf("expected Del on SortedSet to report success even though unimplemented")
	}
	if !db.Contains(FamilySortedSet, "z") {
		t.Fatalf("expected SortedSet deletion to be a no-op on the data")
	}
}

func TestDelOtherFamiliesWork(t *testing.T) {
	db := New()
	db.Add(FamilyString, "s", "", "v")
	if !db.Del(FamilyString, "s") {
		t.Fatalf("expected successful delete")
	}
	if db.Del(FamilyString, "s") {
		t.Fatalf("expected second delete of missing key to fail")
	}
}

func TestListRPop(t *testing.T) {
	db := New()
	db.Add(FamilyList, "l", "a", "")
	db.Add(FamilyList, "l", "b", "")

	v, ok := db.RPop("l")
	if !ok || v != "b" {
		t.Fatalf("expected b, got %q ok=%v", v, ok)
	}
	v, ok = db.RPop("l")
	if !ok || v != "a" {
		t.Fatalf("expected a, got %q ok=%v", v, ok)
	}
	if _, ok := db.RPop("l"); ok {
		t.Fatalf("expected RPop on empty list to fail")
	}
}

func TestHashGetAndGetField(t *testing.T) {
	db := New()
	db.Add(FamilyHash, "h", "f1", "v1")
	db.Add(FamilyHash, "h", "f2", "v2")

	v, ok := db.GetField("h", "f1")
	if !ok || v != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}

	rendered, ok := db.Get(FamilyHash, "h")
	if !ok || rendered != "f1:v1 f2:v2 " {
		t.Fatalf("expected sorted field rendering, got %q", rendered)
	}
}

func TestSetMembersRendering(t *testing.T) {
	db := New()
	db.Add(FamilySet, "s", "a", "")
	db.Add(FamilySet, "s", "a", "")
	rendered, ok := db.Get(FamilySet, "s")
	if !ok {
		t.Fatalf("expected set to exist")
	}
	if rendered != "a " {
		t.Fatalf("expected single rendered member, got %q", rendered)
	}
}

func TestSortedSetAddOverrideAndRange(t *testing.T) {
	db := New()
	db.Add(FamilySortedSet, "z", "m", "1")
	db.Add(FamilySortedSet, "z", "m", "5")
	db.Add(FamilySortedSet, "z", "n", "2")

	card, ok := db.ZCard("z")
	if !ok || card != 2 {
		t.Fatalf("expected cardinality 2, got %d ok=%v", card, ok)
	}

	count, ok := db.ZCount("z", 0, 10)
	if !ok || count != 2 {
		t.Fatalf("expected count 2, got %d ok=%v", count, ok)
	}

	rendered, ok := db.ZRange("z", 0, 10)
	if !ok || rendered != "n:2\nm:5" {
		t.Fatalf("expected ascending range rendering, got %q", rendered)
	}
}

func TestSortedSetInlineRangeOnGet(t *testing.T) {
	db := New()
	db.Add(FamilySortedSet, "z", "a", "1")
	db.Add(FamilySortedSet, "z", "b", "2")
	db.Add(FamilySortedSet, "z", "c", "3")

	rendered, ok := db.Get(FamilySortedSet, "z:1@2")
	if !ok || rendered != "a:1\nb:2" {
		t.Fatalf("expected inline-range rendering, got %q ok=%v", rendered, ok)
	}
}

func TestSizeAccounting(t *testing.T) {
	db := New()
	db.Add(FamilyString, "a", "", "1")
	db.Add(FamilyList, "b", "x", "")
	db.Add(FamilyHash, "c", "f", "v")
	db.Add(FamilySet, "d", "m", "")
	db.Add(FamilySortedSet, "e", "m", "1")

	if db.Size() != 5 {
		t.Fatalf("expected total size 5, got %d", db.Size())
	}
	if db.SizeOf(FamilyString) != 1 {
		t.Fatalf("expected 1 string key, got %d", db.SizeOf(FamilyString))
	}
}

func TestSampleExpirationsDeletesOnlyExpired(t *testing.T) {
	db := New()
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		db.Add(FamilyString, key, "", "v")
	}
	// Expire a minority of keys; periodic sampling should find and remove
	// them without touching the rest.
	db.SetExpire(FamilyString, "a", -time.Second)
	db.SetExpire(FamilyString, "b", -time.Second)

	deleted := 0
	for i := 0; i < 5 && db.Contains(FamilyString, "a"); i++ {
		deleted += db.SampleExpirations(SampleSize)
	}
	if db.Contains(FamilyString, "a") || db.Contains(FamilyString, "b") {
		t.Fatalf("expected expired keys to be swept by repeated sampling")
	}
	if !db.Contains(FamilyString, "c") {
		t.Fatalf("expected unexpired keys to survive sampling")
	}
	if deleted == 0 {
		t.Fatalf("expected at least one deletion across sampling passes")
	}
}

func TestSampleExpirationsConvergesToZero(t *testing.T) {
	db := New()
	db.Add(FamilyString, "only", "", "v")
	db.SetExpire(FamilyString, "only", -time.Second)

	db.RunPeriodicSampling()
	if db.Contains(FamilyString, "only") {
		t.Fatalf("expected RunPeriodicSampling to converge and remove the expired key")
	}
}
