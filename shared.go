package scenecache

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/sync/singleflight"
)

// SharedOptions configures a Shared.
type SharedOptions struct {
	// Open opens files for reading. Defaults to Create.
	Open OpenFunc

	// Options are passed to Open. Their Shared field is set to the Shared
	// itself, so links inside shared files resolve through it too.
	Options Options

	Logger *slog.Logger
}

// Shared deduplicates opening scene files for reading. Every consumer
// asking for the same file gets the same root.
//
// Roots dropped by Erase or Clear stay open, since consumers may still hold
// them; Close closes them along with the cached ones.
type Shared struct {
	open   OpenFunc
	opt    Options
	logger *slog.Logger

	mu      sync.RWMutex
	scenes  map[string]Scene
	retired []Scene
	closed  bool
	watcher *fsnotify.Watcher
	done    chan struct{}

	group singleflight.Group
}

func NewShared(sopt SharedOptions) *Shared {
	sh := &Shared{
		open:   sopt.Open,
		opt:    sopt.Options,
		logger: sopt.Logger,
		scenes: make(map[string]Scene),
	}
	if sh.open == nil {
		sh.open = Create
	}
	if sh.logger == nil {
		sh.logger = sh.opt.logger()
	}
	sh.opt.Shared = sh
	return sh
}

// canonicalFileName is the key files are cached under.
func canonicalFileName(fileName string) string {
	if exp, err := homedir.Expand(fileName); err == nil {
		fileName = exp
	}
	if abs, err := filepath.Abs(fileName); err == nil {
		return abs
	}
	return filepath.Clean(fileName)
}

// Get returns the cached root of fileName, opening it on first use.
// Concurrent first calls for the same file open it once.
func (sh *Shared) Get(fileName string) (Scene, error) {
	key := canonicalFileName(fileName)

	sh.mu.RLock()
	s, ok := sh.scenes[key]
	closed := sh.closed
	sh.mu.RUnlock()
	if closed {
		return nil, sceneErrf(ErrIO, fileName, nil, "", nil, "shared scene cache is closed")
	}
	if ok {
		sharedHits.Inc()
		return s, nil
	}

	v, err, _ := sh.group.Do(key, func() (any, error) {
		sh.mu.RLock()
		s, ok := sh.scenes[key]
		sh.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := sh.open(fileName, Read, sh.opt)
		if err != nil {
			return nil, err
		}
		sharedOpens.Inc()
		if sh.opt.Verbose {
			sh.logger.Debug("scenecache: shared open", "file", key)
		}

		sh.mu.Lock()
		defer sh.mu.Unlock()
		if sh.closed {
			s.Close()
			return nil, sceneErrf(ErrIO, fileName, nil, "", nil, "shared scene cache is closed")
		}
		sh.scenes[key] = s
		if sh.watcher != nil {
			sh.watch(key)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Scene), nil
}

// Erase drops fileName from the cache so the next Get reopens it.
func (sh *Shared) Erase(fileName string) {
	sh.erase(canonicalFileName(fileName), "erase")
}

func (sh *Shared) erase(key, reason string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.scenes[key]
	if !ok {
		return
	}
	delete(sh.scenes, key)
	sh.retired = append(sh.retired, s)
	if sh.watcher != nil {
		sh.watcher.Remove(key)
	}
	sharedEvictions.WithLabelValues(reason).Inc()
	if sh.opt.Verbose {
		sh.logger.Debug("scenecache: shared erase", "file", key, "reason", reason)
	}
}

// Clear drops every cached file.
func (sh *Shared) Clear() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for key, s := range sh.scenes {
		sh.retired = append(sh.retired, s)
		if sh.watcher != nil {
			sh.watcher.Remove(key)
		}
		sharedEvictions.WithLabelValues("clear").Inc()
	}
	clear(sh.scenes)
}

// Len returns the number of cached files.
func (sh *Shared) Len() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.scenes)
}

// Watch erases cached files when they are written, removed or renamed on
// disk. Files that are not on disk are never erased this way.
func (sh *Shared) Watch() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return sceneErrf(ErrIO, "", nil, "", nil, "shared scene cache is closed")
	}
	if sh.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return sceneErrf(ErrIO, "", nil, "", err, "cannot watch scene files")
	}
	sh.watcher = w
	sh.done = make(chan struct{})
	for key := range sh.scenes {
		sh.watch(key)
	}
	go sh.watchLoop(w, sh.done)
	return nil
}

// watch must be called with mu held.
func (sh *Shared) watch(key string) {
	if err := sh.watcher.Add(key); err != nil && sh.opt.Verbose {
		sh.logger.Debug("scenecache: not watching", "file", key, "err", err)
	}
}

func (sh *Shared) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				sh.erase(canonicalFileName(ev.Name), "watch")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			sh.logger.Warn("scenecache: watch error", "err", err)
		}
	}
}

// Close closes every root the cache ever opened. Get fails afterwards.
func (sh *Shared) Close() error {
	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		return nil
	}
	sh.closed = true
	w, done := sh.watcher, sh.done
	sh.watcher = nil
	scenes := sh.retired
	for _, s := range sh.scenes {
		scenes = append(scenes, s)
	}
	clear(sh.scenes)
	sh.retired = nil
	sh.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
		<-done
	}
	for _, s := range scenes {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
