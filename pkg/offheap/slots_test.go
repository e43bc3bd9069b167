package offheap

import (
	"errors"
	"math"
	"testing"
)

func testGeometry() geometry {
	opts := Options{ChunkSize: 64, MaxChunksPerEntry: 16, Alignment: 8, MetadataBytes: 4}
	return newGeometry(&opts)
}

func TestClassFor(t *testing.T) {
	g := testGeometry()

	// Smallest entries fit the base class.
	class, err := g.classFor(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if class != 0 {
		t.Errorf("expected class 0, got %d", class)
	}

	// A value bigger than one chunk moves up a class.
	class, err = g.classFor(4, 80)
	if err != nil {
		t.Fatal(err)
	}
	if class != 1 {
		t.Errorf("expected class 1, got %d", class)
	}

	// Larger than the biggest class is rejected.
	if _, err := g.classFor(4, 64*16); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("expected ErrEntryTooLarge, got %v", err)
	}
}

func TestClassForRejectsOversizedKey(t *testing.T) {
	// Slots big enough to physically hold the key; the header's 2-byte
	// length field still caps it.
	opts := Options{ChunkSize: 1 << 17, MaxChunksPerEntry: 1, Alignment: 8}
	g := newGeometry(&opts)

	if _, err := g.classFor(70000, 16); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("expected ErrKeyTooLarge, got %v", err)
	}
	if _, err := g.classFor(math.MaxUint16, 16); err != nil {
		t.Errorf("expected max-length key to fit, got %v", err)
	}
}

func TestSlotRoundTrip(t *testing.T) {
	g := testGeometry()
	a := newMemArena()
	if err := a.Truncate(g.extent); err != nil {
		t.Fatal(err)
	}

	key := []byte("the-key")
	value := []byte("the-value")
	class, err := g.classFor(len(key), len(value))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteAt(g.encodeSlot(class, key, value), 0); err != nil {
		t.Fatal(err)
	}

	hdr, gotKey, gotValue, err := g.readSlot(a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.flag != slotInUse || hdr.class != class {
		t.Errorf("bad header: %+v", hdr)
	}
	if string(gotKey) != string(key) || string(gotValue) != string(value) {
		t.Errorf("round trip mismatch: key=%q value=%q", gotKey, gotValue)
	}

	if err := markSlot(a, 0, slotDeleted); err != nil {
		t.Fatal(err)
	}
	hdr, _, _, err = g.readSlot(a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.flag != slotDeleted {
		t.Errorf("expected deleted flag, got %d", hdr.flag)
	}
}

func TestValueOffsetAligned(t *testing.T) {
	g := testGeometry()
	for keyLen := 0; keyLen < 32; keyLen++ {
		off := g.valueOffset(keyLen)
		if off%8 != 0 {
			t.Errorf("keyLen %d: value offset %d not 8-byte aligned", keyLen, off)
		}
		if off < slotHeaderSize+g.metaBytes+keyLen {
			t.Errorf("keyLen %d: value offset %d overlaps key", keyLen, off)
		}
	}
}
