package scenecache

import "sync"

var sampleBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

func releaseSampleBytes(b []byte) {
	if cap(b) > 16*1024*1024 {
		return
	}
	sampleBytesPool.Put(b[:0])
}
