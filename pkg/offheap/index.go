package offheap

import "github.com/google/btree"

// indexEntry locates one live entry's slot in the arena. The key is the
// serialized key, kept as a string for B-tree ordering.
type indexEntry struct {
	key    string
	off    int64
	class  int
	valLen int
}

// Less implements btree.Item.
func (e indexEntry) Less(than btree.Item) bool {
	return e.key < than.(indexEntry).key
}

// index holds one segment's in-memory structures: the B-tree from key to
// slot, and per-class free lists of reusable slots. Only the owning
// segment goroutine touches it.
type index struct {
	tree *btree.BTree
	free [][]int64 // class -> reusable slot offsets
}

func newIndex(maxClass int) *index {
	return &index{
		tree: btree.New(32),
		free: make([][]int64, maxClass+1),
	}
}

func (idx *index) get(key string) (indexEntry, bool) {
	item := idx.tree.Get(indexEntry{key: key})
	if item == nil {
		return indexEntry{}, false
	}
	return item.(indexEntry), true
}

func (idx *index) set(e indexEntry) {
	idx.tree.ReplaceOrInsert(e)
}

func (idx *index) delete(key string) (indexEntry, bool) {
	item := idx.tree.Delete(indexEntry{key: key})
	if item == nil {
		return indexEntry{}, false
	}
	return item.(indexEntry), true
}

func (idx *index) len() int {
	return idx.tree.Len()
}

// max returns the greatest key in the index. Used by log collections to
// resume their sequence counter after recovery.
func (idx *index) max() (indexEntry, bool) {
	item := idx.tree.Max()
	if item == nil {
		return indexEntry{}, false
	}
	return item.(indexEntry), true
}

// pushFree records a freed slot of the given class for reuse.
func (idx *index) pushFree(class int, off int64) {
	idx.free[class] = append(idx.free[class], off)
}

// popFree returns a reusable slot of the given class, or -1 when none is
// available.
func (idx *index) popFree(class int) int64 {
	list := idx.free[class]
	if len(list) == 0 {
		return -1
	}
	off := list[len(list)-1]
	idx.free[class] = list[:len(list)-1]
	return off
}
