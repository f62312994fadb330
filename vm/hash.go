package vm

import "github.com/twmb/murmur3"

// ---------------------------------------------------------------------------
// HashTable: Value-keyed table with separate chaining
// ---------------------------------------------------------------------------

const (
	hashDefaultSize = 32
	hashLoadFactor  = 0.75
	hashSeed        = 5381

	// MaxHashEntries is the hard entry ceiling of every table. Inserting past
	// it fails instead of growing.
	MaxHashEntries = 1 << 30
)

type hashNode struct {
	key   Value
	value Value
	hash  uint32
	next  *hashNode
}

// HashTable is the table behind class method tables and the Map type.
// Keys are compared with Equals and hashed with Hash.
type HashTable struct {
	nodes      []*hashNode
	count      int
	maxEntries int

	// stats
	collisions int
	resizes    int
}

// NewHashTable creates a table with at least size buckets.
func NewHashTable(size int) *HashTable {
	if size < hashDefaultSize {
		size = hashDefaultSize
	}
	return &HashTable{
		nodes:      make([]*hashNode, size),
		maxEntries: MaxHashEntries,
	}
}

// SetMaxEntries lowers the entry ceiling for this table.
func (t *HashTable) SetMaxEntries(n int) {
	if n > 0 && n < MaxHashEntries {
		t.maxEntries = n
	}
}

// Count returns the number of entries.
func (t *HashTable) Count() int {
	return t.count
}

// Buckets returns the current bucket count.
func (t *HashTable) Buckets() int {
	return len(t.nodes)
}

// Insert adds or replaces key. It returns true only when a new key was
// added; replacing an existing key or hitting the entry ceiling returns
// false.
func (t *HashTable) Insert(key, value Value) bool {
	h := Hash(key)
	pos := h % uint32(len(t.nodes))

	node := t.nodes[pos]
	if node != nil {
		t.collisions++
	}
	for ; node != nil; node = node.next {
		if node.hash == h && Equals(key, node.key) {
			node.value = value
			return false
		}
	}
	if t.count >= t.maxEntries {
		return false
	}

	if float64(t.count) >= float64(len(t.nodes))*hashLoadFactor {
		t.resize()
		pos = h % uint32(len(t.nodes))
	}

	t.nodes[pos] = &hashNode{key: key, value: value, hash: h, next: t.nodes[pos]}
	t.count++
	return true
}

func (t *HashTable) resize() {
	nodes := make([]*hashNode, len(t.nodes)*2)
	for _, node := range t.nodes {
		for node != nil {
			next := node.next
			pos := node.hash % uint32(len(nodes))
			node.next = nodes[pos]
			nodes[pos] = node
			node = next
		}
	}
	t.nodes = nodes
	t.resizes++
}

// Lookup returns the value stored for key.
func (t *HashTable) Lookup(key Value) (Value, bool) {
	h := Hash(key)
	for node := t.nodes[h%uint32(len(t.nodes))]; node != nil; node = node.next {
		if node.hash == h && Equals(key, node.key) {
			return node.value, true
		}
	}
	return Null, false
}

// LookupString looks up a key by Go string without allocating a String.
func (t *HashTable) LookupString(key string) (Value, bool) {
	h := hashString(key)
	for node := t.nodes[h%uint32(len(t.nodes))]; node != nil; node = node.next {
		if node.hash != h {
			continue
		}
		if s := node.key.AsString(); s != nil && s.s == key {
			return node.value, true
		}
	}
	return Null, false
}

// Remove deletes key, reporting whether it was present.
func (t *HashTable) Remove(key Value) bool {
	h := Hash(key)
	pos := h % uint32(len(t.nodes))
	var prev *hashNode
	for node := t.nodes[pos]; node != nil; node = node.next {
		if node.hash == h && Equals(key, node.key) {
			if prev != nil {
				prev.next = node.next
			} else {
				t.nodes[pos] = node.next
			}
			t.count--
			return true
		}
		prev = node
	}
	return false
}

// Iterate calls fn for every entry in bucket order. Returning false stops.
// fn must not insert into or remove from t.
func (t *HashTable) Iterate(fn func(key, value Value) bool) {
	for _, node := range t.nodes {
		for ; node != nil; node = node.next {
			if !fn(node.key, node.value) {
				return
			}
		}
	}
}

// Keys returns all keys in iteration order.
func (t *HashTable) Keys() []Value {
	keys := make([]Value, 0, t.count)
	t.Iterate(func(k, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Compare reports whether both tables hold the same keys with values equal
// under eq.
func (t *HashTable) Compare(other *HashTable, eq func(a, b Value) bool) bool {
	if t == other {
		return true
	}
	if other == nil || t.count != other.count {
		return false
	}
	same := true
	t.Iterate(func(k, v Value) bool {
		ov, ok := other.Lookup(k)
		if !ok || !eq(v, ov) {
			same = false
		}
		return same
	})
	return same
}

// Size returns the accounted byte size of the table structure.
func (t *HashTable) Size() int {
	const nodeSize = 72
	return 48 + len(t.nodes)*8 + t.count*nodeSize
}

// Stats returns collision and resize counters.
func (t *HashTable) Stats() (collisions, resizes int) {
	return t.collisions, t.resizes
}

// ---------------------------------------------------------------------------
// murmur3 (32-bit)
// ---------------------------------------------------------------------------

func hashString(s string) uint32 {
	return murmur3.SeedSum32(hashSeed, []byte(s))
}

func hashBytes(b []byte) uint32 {
	return murmur32(b, hashSeed)
}

func murmur32(key []byte, seed uint32) uint32 {
	return murmur3.SeedSum32(seed, key)
}
