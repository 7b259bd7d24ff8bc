package indexedio

import (
	"bytes"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore holds a container in memory. Its committed contents outlive
// the Files opened on it, so a store can be written, closed and reopened
// for reading. It counts opens, which makes it a convenient test double.
type MemoryStore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	root   *memBucket // committed, never mutated in place
	writer bool
	opens  atomic.Int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Opens returns how many times the store has been opened.
func (s *MemoryStore) Opens() int64 { return s.opens.Load() }

type memStorage struct {
	store  *MemoryStore
	closed atomic.Bool
}

func newMemStorage(store *MemoryStore) storage {
	store.opens.Add(1)
	return &memStorage{store: store}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	if !writable {
		return &memTx{base: st, root: st.root}, nil
	}
	for st.writer {
		st.cond.Wait()
	}
	st.writer = true

	// Writers work on a private deep copy so readers can keep using the
	// committed tree without locking.
	return &memTx{base: st, writable: true, root: st.root.clone()}, nil
}

func (s *memStorage) Close() error {
	s.closed.Store(true)
	return nil
}

type memTx struct {
	base     *MemoryStore
	writable bool
	root     *memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Root() storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	if tx.root == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: tx.root}
}

func (tx *memTx) ResetRoot() (storageBucket, error) {
	if !tx.writable {
		return nil, ErrReadOnly
	}
	tx.root = &memBucket{}
	return memBucketHandle{tx: tx, b: tx.root}, nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return ErrReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.base.root = tx.root
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

type memBucket struct {
	items []memKV // sorted by key
}

type memKV struct {
	key   []byte
	value []byte
	sub   *memBucket
}

func (b *memBucket) clone() *memBucket {
	if b == nil {
		return nil
	}
	out := &memBucket{items: make([]memKV, len(b.items))}
	for i, kv := range b.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
			sub:   kv.sub.clone(),
		}
	}
	return out
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.b.find(key)
	if !ok || b.b.items[i].sub != nil {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	i, ok := b.b.find(key)
	if ok {
		if b.b.items[i].sub != nil {
			return errIncompatible
		}
		b.b.items[i].value = slices.Clone(value)
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return ErrReadOnly
	}
	i, ok := b.b.find(key)
	if !ok {
		return nil
	}
	if b.b.items[i].sub != nil {
		return errIncompatible
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Bucket(key []byte) storageBucket {
	i, ok := b.b.find(key)
	if !ok || b.b.items[i].sub == nil {
		return nil
	}
	return memBucketHandle{tx: b.tx, b: b.b.items[i].sub}
}

func (b memBucketHandle) CreateBucket(key []byte) (storageBucket, error) {
	if !b.tx.writable {
		return nil, ErrReadOnly
	}
	i, ok := b.b.find(key)
	if ok {
		if b.b.items[i].sub == nil {
			return nil, errIncompatible
		}
		return memBucketHandle{tx: b.tx, b: b.b.items[i].sub}, nil
	}
	sub := &memBucket{}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: slices.Clone(key), sub: sub})
	return memBucketHandle{tx: b.tx, b: sub}, nil
}

func (b memBucketHandle) DeleteBucket(key []byte) error {
	if !b.tx.writable {
		return ErrReadOnly
	}
	i, ok := b.b.find(key)
	if !ok {
		return errBucketNotFound
	}
	if b.b.items[i].sub == nil {
		return errIncompatible
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) ForEach(fn func(key []byte, isBucket bool, valueSize int) error) error {
	for _, kv := range b.b.items {
		if err := fn(kv.key, kv.sub != nil, len(kv.value)); err != nil {
			return err
		}
	}
	return nil
}

func (b memBucketHandle) Stats() bucketStats {
	s := bucketStats{BucketN: 1}
	for _, kv := range b.b.items {
		s.KeyN++
		if kv.sub != nil {
			sub := memBucketHandle{tx: b.tx, b: kv.sub}.Stats()
			s.KeyN += sub.KeyN
			s.BucketN += sub.BucketN
			s.LeafInuse += int64(len(kv.key)) + sub.LeafInuse
		} else {
			s.LeafInuse += int64(len(kv.key) + len(kv.value))
		}
	}
	s.LeafAlloc = s.LeafInuse
	return s
}
