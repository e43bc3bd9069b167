package offheap

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Slot layout. A slot occupies chunkSize<<class bytes:
//
//	flag    byte   0=empty, 1=in use, 2=deleted
//	class   byte   size class
//	keyLen  uint16
//	valLen  uint32
//	meta    [metadataBytes]byte
//	key     [keyLen]byte
//	pad     value start aligned to the configured boundary
//	value   [valLen]byte
//
// Extents are pre-zeroed, so a zero flag marks the unused remainder of an
// extent during a recovery scan.
const (
	slotHeaderSize = 8

	slotEmpty   = 0x00
	slotInUse   = 0x01
	slotDeleted = 0x02
)

const minExtentSize = 64 * 1024

// geometry is the resolved slot arithmetic shared by all segments of one
// collection.
type geometry struct {
	chunkSize int
	maxClass  int // largest class; slot size = chunkSize << class
	align     int
	metaBytes int
	extent    int64
}

func newGeometry(o *Options) geometry {
	maxClass := 0
	for (1 << (maxClass + 1)) <= o.MaxChunksPerEntry {
		maxClass++
	}
	g := geometry{
		chunkSize: o.ChunkSize,
		maxClass:  maxClass,
		align:     o.Alignment,
		metaBytes: o.MetadataBytes,
	}
	g.extent = int64(g.slotSize(maxClass))
	if g.extent < minExtentSize {
		g.extent = minExtentSize
	}
	return g
}

func (g geometry) slotSize(class int) int {
	return g.chunkSize << class
}

func (g geometry) chunks(class int) int64 {
	return 1 << class
}

// valueOffset returns the value's offset within the slot for a key of the
// given length, honoring the alignment boundary.
func (g geometry) valueOffset(keyLen int) int {
	return alignUp(slotHeaderSize+g.metaBytes+keyLen, g.align)
}

// classFor picks the smallest class whose slot holds the entry, or an
// ErrEntryTooLarge when even the largest class cannot. Key and value
// lengths must fit the 2- and 4-byte header fields regardless of how big
// the configured slots are.
func (g geometry) classFor(keyLen, valLen int) (int, error) {
	if keyLen > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %d bytes exceeds the %d-byte header limit", ErrKeyTooLarge, keyLen, math.MaxUint16)
	}
	if uint64(valLen) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d-byte value exceeds the %d-byte header limit", ErrEntryTooLarge, valLen, uint64(math.MaxUint32))
	}
	need := g.valueOffset(keyLen) + valLen
	for class := 0; class <= g.maxClass; class++ {
		if g.slotSize(class) >= need {
			return class, nil
		}
	}
	return 0, fmt.Errorf("%w: %d bytes exceeds %d-byte slot limit", ErrEntryTooLarge, need, g.slotSize(g.maxClass))
}

// next returns the offset of the slot following one of the given class.
func (g geometry) next(rel int64, class int) int64 {
	return int64(alignUp(int(rel)+g.slotSize(class), g.align))
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// encodeSlot renders a full, zero-padded slot image.
func (g geometry) encodeSlot(class int, key, value []byte) []byte {
	buf := make([]byte, g.slotSize(class))
	buf[0] = slotInUse
	buf[1] = byte(class)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[slotHeaderSize+g.metaBytes:], key)
	copy(buf[g.valueOffset(len(key)):], value)
	return buf
}

type slotHeader struct {
	flag   byte
	class  int
	keyLen int
	valLen int
}

func decodeSlotHeader(buf []byte) slotHeader {
	return slotHeader{
		flag:   buf[0],
		class:  int(buf[1]),
		keyLen: int(binary.BigEndian.Uint16(buf[2:4])),
		valLen: int(binary.BigEndian.Uint32(buf[4:8])),
	}
}

// readSlot reads and decodes a whole slot at the given arena offset.
func (g geometry) readSlot(a arena, off int64) (slotHeader, []byte, []byte, error) {
	hdrBuf := make([]byte, slotHeaderSize)
	if _, err := a.ReadAt(hdrBuf, off); err != nil {
		return slotHeader{}, nil, nil, err
	}
	hdr := decodeSlotHeader(hdrBuf)
	if hdr.flag == slotEmpty {
		return hdr, nil, nil, nil
	}
	span := g.valueOffset(hdr.keyLen) + hdr.valLen
	buf := make([]byte, span)
	if _, err := a.ReadAt(buf, off); err != nil {
		return slotHeader{}, nil, nil, err
	}
	key := buf[slotHeaderSize+g.metaBytes : slotHeaderSize+g.metaBytes+hdr.keyLen]
	value := buf[g.valueOffset(hdr.keyLen) : g.valueOffset(hdr.keyLen)+hdr.valLen]
	return hdr, key, value, nil
}

// markSlot rewrites just the flag byte of a slot.
func markSlot(a arena, off int64, flag byte) error {
	_, err := a.WriteAt([]byte{flag}, off)
	return err
}
