package indexedio

// Stats summarizes the contents of a container.
type Stats struct {
	Keys        int
	Directories int

	DataSize  int64
	DataAlloc int64
	FileSize  int64
}

// Stats reports key counts and allocation sizes. Backends that don't track
// allocation report DataAlloc equal to DataSize and a zero FileSize.
func (f *File) Stats() (Stats, error) {
	var result Stats
	err := f.view(func(root storageBucket) error {
		if root == nil {
			return nil
		}
		bs := root.Stats()
		result = Stats{
			Keys:        bs.KeyN,
			Directories: bs.BucketN,
			DataSize:    bs.LeafInuse,
			DataAlloc:   bs.TotalAlloc(),
		}
		return nil
	})
	if err != nil {
		return result, entryErr(f, nil, "", err)
	}
	result.FileSize = f.size()
	return result, nil
}

func (f *File) size() int64 {
	if f.mode == Write {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.wtx == nil {
			return 0
		}
		return f.wtx.Size()
	}
	tx, err := f.st.BeginTx(false)
	if err != nil {
		return 0
	}
	defer tx.Rollback()
	return tx.Size()
}
