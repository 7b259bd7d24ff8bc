package indexedio

import (
	"errors"
	"unsafe"

	"go.etcd.io/bbolt"
)

var rootBucketName = []byte("scene")

type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Root() storageBucket {
	b := tx.btx.Bucket(rootBucketName)
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) ResetRoot() (storageBucket, error) {
	err := tx.btx.DeleteBucket(rootBucketName)
	if err != nil && err != bbolt.ErrBucketNotFound {
		return nil, err
	}
	b, err := tx.btx.CreateBucket(rootBucketName)
	if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error {
	return boltErr(b.b.Put(key, value))
}

func (b boltBucket) Delete(key []byte) error {
	return boltErr(b.b.Delete(key))
}

func (b boltBucket) Bucket(key []byte) storageBucket {
	sub := b.b.Bucket(key)
	if sub == nil {
		return nil
	}
	return boltBucket{b: sub}
}

func (b boltBucket) CreateBucket(key []byte) (storageBucket, error) {
	sub, err := b.b.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, boltErr(err)
	}
	return boltBucket{b: sub}, nil
}

func (b boltBucket) DeleteBucket(key []byte) error {
	return boltErr(b.b.DeleteBucket(key))
}

func (b boltBucket) ForEach(fn func(key []byte, isBucket bool, valueSize int) error) error {
	return b.b.ForEach(func(k, v []byte) error {
		return fn(k, v == nil, len(v))
	})
}

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		BucketN:     s.BucketN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func boltErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bbolt.ErrIncompatibleValue):
		return errIncompatible
	case errors.Is(err, bbolt.ErrBucketNotFound):
		return errBucketNotFound
	case errors.Is(err, bbolt.ErrTxNotWritable), errors.Is(err, bbolt.ErrDatabaseReadOnly):
		return ErrReadOnly
	default:
		return err
	}
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
