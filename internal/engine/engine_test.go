package engine

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	return New(path, nil), path
}

func TestScenarioS1RoundTripString(t *testing.T) {
	e, _ := newTestEngine(t)
	if r := e.Dispatch("set a 1"); r != "OK" {
		t.Fatalf("expected OK, got %q", r)
	}
	if r := e.Dispatch("get a"); r != "1" {
		t.Fatalf("expected 1, got %q", r)
	}
}

func TestScenarioS2ListOrderAndEmptyPop(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("rpush mylist x")
	e.Dispatch("rpush mylist y")

	if r := e.Dispatch("rpop mylist"); r != "y" {
		t.Fatalf("expected y, got %q", r)
	}
	if r := e.Dispatch("rpop mylist"); r != "x" {
		t.Fatalf("expected x, got %q", r)
	}
	if r := e.Dispatch("rpop mylist"); r != "IO Error: rpop error" {
		t.Fatalf("expected rpop error, got %q", r)
	}
}

func TestScenarioS3HashSortedRendering(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("hset h f1 v1")
	e.Dispatch("hset h f2 v2")

	if r := e.Dispatch("hget h f1"); r != "v1" {
		t.Fatalf("expected v1, got %q", r)
	}
	if r := e.Dispatch("hgetall h"); r != "f1:v1 f2:v2 " {
		t.Fatalf("expected sorted hash rendering, got %q", r)
	}
}

func TestScenarioS4SortedSetCountAndRange(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("zadd z apple 1")
	e.Dispatch("zadd z banana 2")
	e.Dispatch("zadd z cherry 3")

	if r := e.Dispatch("zcount z 1 2"); r != "(count)2" {
		t.Fatalf("expected (count)2, got %q", r)
	}
	if r := e.Dispatch("zrange z 2 3"); r != "banana:2\ncherry:3" {
		t.Fatalf("expected banana:2\\ncherry:3, got %q", r)
	}
}

func TestScenarioS5PExpireHonoured(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("set k v")
	e.Dispatch("pexpire k 50")
	time.Sleep(100 * time.Millisecond)

	if r := e.Dispatch("get k"); r != "NotFound: Empty Content" {
		t.Fatalf("expected NotFound marker, got %q", r)
	}
}

func TestScenarioS6SnapshotSurvivesRestart(t *testing.T) {
	e, path := newTestEngine(t)
	e.Dispatch("set a 1")
	if r := e.Dispatch("bgsave"); r != "OK" {
		t.Fatalf("expected OK, got %q", r)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		restarted := New(path, nil)
		if r := restarted.Dispatch("get a"); r == "1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected snapshot to survive a simulated restart")
}

func TestPExpireResolvesFirstContainingFamily(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("hset h f v")
	if r := e.Dispatch("pexpire h 50"); r != "OK" {
		t.Fatalf("expected OK, got %q", r)
	}
	time.Sleep(100 * time.Millisecond)
	if r := e.Dispatch("hgetall h"); r != "IO Error: Empty Content" {
		t.Fatalf("expected expired hash to read back as empty content, got %q", r)
	}
}

func TestPExpireOnUnknownKeyFails(t *testing.T) {
	e, _ := newTestEngine(t)
	if r := e.Dispatch("pexpire missing 50"); r != "IO Error: pExpire error" {
		t.Fatalf("expected pExpire error, got %q", r)
	}
}

func TestDatabaseIsolationAcrossSelect(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("set a 1")
	if r := e.Dispatch("select 2"); r != "OK" {
		t.Fatalf("expected OK, got %q", r)
	}
	if r := e.Dispatch("get a"); r != "NotFound: Empty Content" {
		t.Fatalf("expected key from db 1 invisible in db 2, got %q", r)
	}
	e.Dispatch("select 1")
	if r := e.Dispatch("get a"); r != "1" {
		t.Fatalf("expected original key still present after selecting back, got %q", r)
	}
}

func TestUnknownVerbYieldsNotFoundCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	if r := e.Dispatch("frobnicate x"); r != "NotFound: command" {
		t.Fatalf("expected NotFound: command, got %q", r)
	}
}

func TestWrongArityYieldsParameterError(t *testing.T) {
	e, _ := newTestEngine(t)
	if r := e.Dispatch("set onlyonearg"); r != "IO Error: Parameter error" {
		t.Fatalf("expected Parameter error, got %q", r)
	}
}

func TestSelectOutOfRangeIsRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	if r := e.Dispatch("select 99"); r != "IO Error: select error" {
		t.Fatalf("expected select error, got %q", r)
	}
}

func TestZaddOverrideAndZcard(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("zadd z m 1")
	e.Dispatch("zadd z m 5")
	if r := e.Dispatch("zcard z"); r != "1" {
		t.Fatalf("expected cardinality 1 after override, got %q", r)
	}
	if r := e.Dispatch("zrange z 0 10"); r != "m:5" {
		t.Fatalf("expected m:5, got %q", r)
	}
}

func TestSaddNoDuplicateAndSmembers(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch("sadd s m")
	e.Dispatch("sadd s m")
	if r := e.Dispatch("smembers s"); r != "m " {
		t.Fatalf("expected single rendered member, got %q", r)
	}
}
