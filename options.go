package scenecache

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/andreyvit/scenecache/indexedio"
)

const defaultBoundCacheSize = 4096

type Options struct {
	Logger    *slog.Logger `toml:"-"`
	Verbose   bool         `toml:"verbose"`
	IsTesting bool         `toml:"testing"`
	MmapSize  int          `toml:"mmap_size"`

	// Timeout bounds waiting for the container's file lock.
	Timeout time.Duration `toml:"timeout"`

	// BoundCacheSize is the number of derived bounds memoized per open file.
	BoundCacheSize int `toml:"bound_cache_size"`

	// Shared resolves link targets. When nil, a linked scene creates a
	// private one and closes it together with the root.
	Shared *Shared `toml:"-"`
}

// LoadOptions reads Options from a TOML file.
func LoadOptions(path string) (Options, error) {
	var opt Options
	path, err := homedir.Expand(path)
	if err != nil {
		return opt, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opt, err
	}
	if err := toml.Unmarshal(data, &opt); err != nil {
		return opt, fmt.Errorf("%s: %w", path, err)
	}
	return opt, nil
}

func (opt Options) logger() *slog.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

func (opt Options) boundCacheSize() int {
	if opt.BoundCacheSize > 0 {
		return opt.BoundCacheSize
	}
	return defaultBoundCacheSize
}

func (opt Options) containerOptions() indexedio.Options {
	return indexedio.Options{
		Logger:    opt.Logger,
		Verbose:   opt.Verbose,
		IsTesting: opt.IsTesting,
		MmapSize:  opt.MmapSize,
		Timeout:   opt.Timeout,
	}
}
