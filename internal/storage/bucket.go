package storage

// Bucket is a prefix-scoped view of a Storage.
// Keys passed to and returned by a Bucket exclude the prefix.
type Bucket struct {
	s      *Storage // s is the shared store
	prefix []byte   // prefix is prepended to every key
}

// Get returns the value of key, or nil if it does not exist.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	return b.s.Get(b.key(key))
}

// Has reports whether key exists.
func (b *Bucket) Has(key []byte) (bool, error) {
	return b.s.Has(b.key(key))
}

// Set stores a value under key.
func (b *Bucket) Set(key, value []byte) error {
	return b.s.Set(b.key(key), value)
}

// Delete removes key.
func (b *Bucket) Delete(key []byte) error {
	return b.s.Delete(b.key(key))
}

// Apply writes every mutation atomically, keys relative to the bucket.
func (b *Bucket) Apply(muts []Mutation) error {
	scoped := make([]Mutation, len(muts))
	for i, m := range muts {
		scoped[i] = Mutation{Key: b.key(m.Key), Value: m.Value}
	}

	return b.s.Apply(scoped)
}

// Iterate calls fn for every pair in the bucket, in key order.
func (b *Bucket) Iterate(fn func(key, value []byte) error) error {
	return b.s.IteratePrefix(b.prefix, func(key, value []byte) error {
		return fn(key[len(b.prefix):], value)
	})
}

// Clear removes every key of the bucket.
func (b *Bucket) Clear() error {
	return b.s.DeletePrefix(b.prefix)
}

// key returns prefix + k.
func (b *Bucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)

	return append(out, k...)
}
