package indexedio

import "errors"

var errBucketNotFound = errors.New("bucket not found")

// storage represents a hierarchical key-value backend (Bolt or in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close releases the backend.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Root returns the top-level bucket holding the container, or nil if
	// nothing was ever written.
	Root() storageBucket

	// ResetRoot drops the top-level bucket and creates an empty one.
	ResetRoot() (storageBucket, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the backing file size in bytes (0 if not applicable).
	Size() int64
}

// storageBucket is a sorted collection of values and nested buckets.
// A key names either a value or a bucket, never both.
type storageBucket interface {
	// Get retrieves a value. Returns nil if the key is missing or names a bucket.
	Get(key []byte) []byte

	// Put stores a value. Fails with errIncompatible if key names a bucket.
	Put(key, value []byte) error

	// Delete removes a value. Fails with errIncompatible if key names a bucket.
	Delete(key []byte) error

	// Bucket returns a nested bucket or nil.
	Bucket(key []byte) storageBucket

	// CreateBucket returns a nested bucket, creating it if needed.
	// Fails with errIncompatible if key names a value.
	CreateBucket(key []byte) (storageBucket, error)

	// DeleteBucket removes a nested bucket and everything below it.
	DeleteBucket(key []byte) error

	// ForEach calls fn for every key in order.
	ForEach(fn func(key []byte, isBucket bool, valueSize int) error) error

	// Stats returns storage-specific statistics, including nested buckets.
	Stats() bucketStats
}

var errIncompatible = errors.New("incompatible value")

type bucketStats struct {
	KeyN        int
	BucketN     int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }
