package offheap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/offheapio/offheap/pkg/build"
)

func buildStringMap(t *testing.T, configure func(*build.MapBuilder)) *Map {
	t.Helper()

	b := NewMapBuilder(nil)
	b.SetKeyType("string")
	b.SetValueType("string")
	if configure != nil {
		configure(b)
	}

	if err := b.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	m, ok := c.(*Map)
	if !ok {
		t.Fatalf("expected *Map, got %T", c)
	}
	return m
}

func newPersistenceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMapPutGetRemove(t *testing.T) {
	m := buildStringMap(t, nil)
	defer m.Close()

	prev, err := m.Put("alpha", "one")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if prev != nil {
		t.Errorf("expected no previous value, got %v", prev)
	}

	val, err := m.Get("alpha")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "one" {
		t.Errorf("expected 'one', got %v", val)
	}

	// Overwrite returns the previous value.
	prev, err = m.Put("alpha", "two")
	if err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}
	if prev != "one" {
		t.Errorf("expected previous 'one', got %v", prev)
	}

	prev, err = m.Remove("alpha")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if prev != "two" {
		t.Errorf("expected removed value 'two', got %v", prev)
	}

	if _, err := m.Get("alpha"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := m.Remove("alpha"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound on double remove, got %v", err)
	}
}

func TestMapIntegerKeysAndLockTimeout(t *testing.T) {
	b := NewMapBuilder(nil)
	b.SetKeyType("integer")
	b.SetValueType("string")
	b.SetMaxEntries(1000)
	b.SetLockTimeout("500ms")
	if err := b.SetAverageValueSize(32); err != nil {
		t.Fatal(err)
	}

	if err := b.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	m := c.(*Map)
	defer m.Close()

	if m.LockTimeout() != 500*time.Millisecond {
		t.Errorf("expected 500ms lock timeout, got %v", m.LockTimeout())
	}

	for i := int64(0); i < 200; i++ {
		if _, err := m.Put(i, fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}
	for i := int64(0); i < 200; i++ {
		val, err := m.Get(i)
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if val != fmt.Sprintf("value-%d", i) {
			t.Errorf("key %d: got %v", i, val)
		}
	}
	n, err := m.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 200 {
		t.Errorf("expected 200 entries, got %d", n)
	}
}

func TestMapPersistedReopen(t *testing.T) {
	path := newPersistenceFile(t, "entries.dat")

	m := buildStringMap(t, func(b *build.MapBuilder) {
		b.SetPersistedTo(path)
	})
	for i := 0; i < 50; i++ {
		if _, err := m.Put(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if _, err := m.Remove("key-7"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := buildStringMap(t, func(b *build.MapBuilder) {
		b.SetPersistedTo(path)
	})
	defer reopened.Close()

	n, err := reopened.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 49 {
		t.Errorf("expected 49 entries after reopen, got %d", n)
	}
	val, err := reopened.Get("key-13")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if val != "value-13" {
		t.Errorf("expected 'value-13', got %v", val)
	}
	if _, err := reopened.Get("key-7"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("removed key resurfaced after reopen: %v", err)
	}

	// Updates after reopen reuse the recovered storage.
	if _, err := reopened.Put("key-13", "updated"); err != nil {
		t.Fatalf("Put after reopen failed: %v", err)
	}
	val, _ = reopened.Get("key-13")
	if val != "updated" {
		t.Errorf("expected 'updated', got %v", val)
	}
}

func TestMapConstantSizeMismatch(t *testing.T) {
	m := buildStringMap(t, func(b *build.MapBuilder) {
		if err := b.SetConstantValueSizeBySample("12345678"); err != nil {
			t.Fatal(err)
		}
	})
	defer m.Close()

	if _, err := m.Put("key", "12345678"); err != nil {
		t.Fatalf("Put of declared size failed: %v", err)
	}
	if _, err := m.Put("key", "too long for the declared size"); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestMapReturnNothingFlags(t *testing.T) {
	m := buildStringMap(t, func(b *build.MapBuilder) {
		b.SetPutReturnsNothing(true)
		b.SetRemoveReturnsNothing(true)
	})
	defer m.Close()

	if _, err := m.Put("key", "one"); err != nil {
		t.Fatal(err)
	}
	prev, err := m.Put("key", "two")
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Errorf("put should return nothing, got %v", prev)
	}
	prev, err = m.Remove("key")
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Errorf("remove should return nothing, got %v", prev)
	}
}

func TestMapCapacityExceeded(t *testing.T) {
	b := NewMapBuilder(nil)
	b.SetKeyType("string")
	b.SetValueType("string")
	b.SetMaxEntries(4)
	b.SetActualSegments(1)

	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	m := c.(*Map)
	defer m.Close()

	for i := 0; i < 4; i++ {
		if _, err := m.Put(fmt.Sprintf("key-%d", i), "v"); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}
	if _, err := m.Put("key-4", "v"); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
	// Overwriting an existing key is still allowed at capacity.
	if _, err := m.Put("key-0", "w"); err != nil {
		t.Errorf("overwrite at capacity failed: %v", err)
	}
}

func TestMapOversizedKeyRejected(t *testing.T) {
	// Chunks large enough that a 70000-byte key fits a slot; the key length
	// header still rejects it instead of truncating.
	m := buildStringMap(t, func(b *build.MapBuilder) {
		b.SetActualChunkSize(1 << 17)
		b.SetMaxChunksPerEntry(1)
		b.SetActualSegments(1)
	})
	defer m.Close()

	if _, err := m.Put(strings.Repeat("k", 70000), "value"); !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("expected ErrKeyTooLarge, got %v", err)
	}
	if _, err := m.Put("short", "value"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n, err := m.Len(); err != nil || n != 1 {
		t.Errorf("expected 1 entry, got %d (%v)", n, err)
	}
}

func TestLockTimeoutExpires(t *testing.T) {
	g := testGeometry()
	a := newMemArena()
	alloc := newExtentAllocator(a, g.extent, 0)
	c := &core{opts: Options{LockTimeout: 5 * time.Millisecond}}

	// No worker draining the segment, so the reply never arrives.
	idle := newSegment(g, a, alloc, 16, 0)
	if _, err := c.doSeg(idle, &request{op: opLen}); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout waiting for a reply, got %v", err)
	}

	// A saturated request channel times out the send itself.
	full := newSegment(g, a, alloc, 16, 0)
	for i := 0; i < cap(full.reqChan); i++ {
		full.reqChan <- &request{op: opLen}
	}
	if _, err := c.doSeg(full, &request{op: opLen}); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout on a saturated segment, got %v", err)
	}
}

func TestMapClosedOperations(t *testing.T) {
	m := buildStringMap(t, nil)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := m.Get("key"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSetAddContainsRemove(t *testing.T) {
	b := NewSetBuilder(nil)
	b.SetKeyType("string")
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	s := c.(*Set)
	defer s.Close()

	added, err := s.Add("alpha")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !added {
		t.Error("expected first Add to report true")
	}
	added, _ = s.Add("alpha")
	if added {
		t.Error("expected duplicate Add to report false")
	}

	ok, err := s.Contains("alpha")
	if err != nil || !ok {
		t.Errorf("Contains: ok=%v err=%v", ok, err)
	}

	removed, err := s.Remove("alpha")
	if err != nil || !removed {
		t.Errorf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = s.Remove("alpha")
	if err != nil {
		t.Fatalf("Remove of absent element failed: %v", err)
	}
	if removed {
		t.Error("expected Remove of absent element to report false")
	}
}

func TestLogAppendRead(t *testing.T) {
	b := NewLogBuilder(nil)
	b.SetKeyType("string")
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	l := c.(*Log)
	defer l.Close()

	for i := 0; i < 10; i++ {
		seq, err := l.Append(fmt.Sprintf("record-%d", i))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if seq != uint64(i+1) {
			t.Errorf("expected sequence %d, got %d", i+1, seq)
		}
	}

	val, err := l.Read(5)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if val != "record-4" {
		t.Errorf("expected 'record-4', got %v", val)
	}
	if _, err := l.Read(99); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestLogPersistedResumesSequence(t *testing.T) {
	path := newPersistenceFile(t, "records.dat")

	open := func() *Log {
		b := NewLogBuilder(nil)
		b.SetKeyType("string")
		b.SetPersistedTo(path)
		if err := b.Validate(); err != nil {
			t.Fatal(err)
		}
		c, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		return c.(*Log)
	}

	l := open()
	for i := 0; i < 6; i++ {
		if _, err := l.Append(fmt.Sprintf("record-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := open()
	defer reopened.Close()

	seq, err := reopened.Append("after-reopen")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 {
		t.Errorf("expected sequence to resume at 7, got %d", seq)
	}
	val, err := reopened.Read(3)
	if err != nil {
		t.Fatalf("Read after reopen failed: %v", err)
	}
	if val != "record-2" {
		t.Errorf("expected 'record-2', got %v", val)
	}
}

type recordingEntryListener struct {
	puts    []any
	removes []any
}

func (l *recordingEntryListener) OnPut(key, value any) { l.puts = append(l.puts, key) }
func (l *recordingEntryListener) OnRemove(key any)     { l.removes = append(l.removes, key) }

func TestMapEntryListener(t *testing.T) {
	listener := &recordingEntryListener{}
	m := buildStringMap(t, func(b *build.MapBuilder) {
		b.SetEventListener(listener)
	})
	defer m.Close()

	m.Put("alpha", "one")
	m.Put("beta", "two")
	m.Remove("alpha")

	if len(listener.puts) != 2 {
		t.Errorf("expected 2 put events, got %d", len(listener.puts))
	}
	if len(listener.removes) != 1 {
		t.Errorf("expected 1 remove event, got %d", len(listener.removes))
	}
}
