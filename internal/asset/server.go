// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asset provides asynchronous loading of animation sources from
// a directory.
package asset

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kortschak/reel/internal/animation"
)

// DefaultCacheSize is the number of sources retained by a Server when
// no cache size is specified.
const DefaultCacheSize = 64

// ErrUnsupported is returned for files whose extension does not name a
// supported image format.
var ErrUnsupported = errors.New("unsupported file extension")

// Extensions maps the file extensions handled by a Server to the codec
// expected for the file's contents.
var Extensions = map[string]animation.Codec{
	".gif":  animation.GIF,
	".webp": animation.WebP,
	".png":  animation.PNG,
	".jpg":  animation.JPEG,
	".jpeg": animation.JPEG,
	".bmp":  animation.BMP,
	".tif":  animation.TIFF,
	".tiff": animation.TIFF,
}

// Server loads animation sources from files below a root directory. Loads
// are performed in the background and their results are retained in a
// bounded cache keyed by the slash-separated path relative to the root.
//
// Load errors are held by the Server and reported by Err. They are not
// forwarded to the pipeline.
type Server struct {
	root  string
	cache *lru.Cache[string, *animation.Source]

	mu       sync.Mutex
	closed   bool
	inflight map[string]int
	errs     map[string]error
	// epoch is incremented for a name when it is invalidated so
	// that loads started before the invalidation are discarded.
	epoch map[string]int
	wg    sync.WaitGroup

	log *slog.Logger
}

// NewServer returns a new Server reading files below root and retaining up
// to cacheSize loaded sources. If cacheSize is less than one,
// DefaultCacheSize is used.
func NewServer(root string, cacheSize int, log *slog.Logger) (*Server, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: root, Err: errors.New("not a directory")}
	}
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	s := &Server{
		root:     root,
		inflight: make(map[string]int),
		errs:     make(map[string]error),
		epoch:    make(map[string]int),
		log:      log.With(slog.String("component", "asset")),
	}
	s.cache, err = lru.NewWithEvict(cacheSize, func(name string, src *animation.Source) {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "evict",
			slog.String("name", name),
			slog.String("size", humanize.Bytes(uint64(len(src.Bytes)))),
		)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the root directory of the Server.
func (s *Server) Root() string {
	return s.root
}

// Load starts loading the named file unless it is already loaded or being
// loaded, and returns the reference to use for the source. Load does not
// block on the file system.
func (s *Server) Load(name string) string {
	ref := path.Clean(filepath.ToSlash(name))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ref)
	return ref
}

// load starts a load of ref. It must be called with s.mu held.
func (s *Server) load(ref string) {
	if s.closed {
		return
	}
	if _, ok := s.inflight[ref]; ok {
		return
	}
	if s.cache.Contains(ref) {
		return
	}
	if _, ok := s.errs[ref]; ok {
		return
	}
	if !fs.ValidPath(ref) {
		s.fail(ref, &fs.PathError{Op: "load", Path: ref, Err: fs.ErrInvalid})
		return
	}
	want, ok := Extensions[strings.ToLower(path.Ext(ref))]
	if !ok {
		s.fail(ref, &fs.PathError{Op: "load", Path: ref, Err: ErrUnsupported})
		return
	}
	epoch := s.epoch[ref]
	s.inflight[ref] = epoch
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.read(ref, want, epoch)
	}()
}

func (s *Server) read(ref string, want animation.Codec, epoch int) {
	ctx := context.Background()
	b, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	var src *animation.Source
	if err == nil {
		src = animation.NewSource(ref, b)
		switch src.Codec {
		case want:
		case animation.Unknown:
			// Let the decoder report the failure
			// against the expected format.
			src.Codec = want
		default:
			s.log.LogAttrs(ctx, slog.LevelWarn, "extension does not match content",
				slog.String("name", ref),
				slog.String("extension", want.String()),
				slog.String("content", src.Codec.String()),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, ref)
	if s.epoch[ref] != epoch {
		s.log.LogAttrs(ctx, slog.LevelDebug, "discard stale load", slog.String("name", ref))
		return
	}
	if err != nil {
		s.fail(ref, err)
		return
	}
	s.cache.Add(ref, src)
	s.log.LogAttrs(ctx, slog.LevelDebug, "loaded",
		slog.String("name", ref),
		slog.String("codec", src.Codec.String()),
		slog.String("size", humanize.Bytes(uint64(len(b)))),
	)
}

// fail records a load error for ref. It must be called with s.mu held.
func (s *Server) fail(ref string, err error) {
	s.errs[ref] = err
	s.log.LogAttrs(context.Background(), slog.LevelError, "cannot load asset",
		slog.String("name", ref),
		slog.Any("error", err),
	)
}

// Get returns the loaded source for ref if it is available.
func (s *Server) Get(ref string) (*animation.Source, bool) {
	return s.cache.Get(ref)
}

// Err returns the error from the most recent load of ref, if any.
func (s *Server) Err(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[ref]
}

// Loading returns the number of loads in flight.
func (s *Server) Loading() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Resolve returns the source for ref if it is loaded. If the source is
// neither loaded nor loading and has not failed, for example because it
// was evicted from the cache or invalidated, a new load is started. Resolve
// is a pipeline.Resolver.
func (s *Server) Resolve(id uuid.UUID, ref string) (*animation.Source, bool) {
	src, ok := s.cache.Get(ref)
	if ok {
		return src, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[ref]; !ok && s.errs[ref] == nil {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "reload",
			slog.String("id", id.String()),
			slog.String("name", ref),
		)
		s.load(ref)
	}
	return nil, false
}

// Invalidate discards any cached source or load error for ref. Loads of
// ref in flight are discarded when they complete. Videos already decoding
// the source are not affected.
func (s *Server) Invalidate(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch[ref]++
	delete(s.errs, ref)
	present := s.cache.Remove(ref)
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "invalidate",
		slog.String("name", ref),
		slog.Bool("cached", present),
	)
}

// Watch invalidates sources when their files in the root directory are
// changed, until ctx is cancelled. Subdirectories of the root are not
// watched.
func (s *Server) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	err = watcher.Add(s.root)
	if err != nil {
		return err
	}
	s.log.LogAttrs(ctx, slog.LevelDebug, "watching", slog.String("root", s.root))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			rel, err := filepath.Rel(s.root, ev.Name)
			if err != nil {
				s.log.LogAttrs(ctx, slog.LevelWarn, "event outside root", slog.String("path", ev.Name))
				continue
			}
			s.log.LogAttrs(ctx, slog.LevelDebug, "file change",
				slog.String("name", rel),
				slog.String("op", ev.Op.String()),
			)
			s.Invalidate(filepath.ToSlash(rel))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.LogAttrs(ctx, slog.LevelError, "watcher error", slog.Any("error", err))
		}
	}
}

// Close waits for loads in flight to complete. Loads requested after
// Close are ignored.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "closed",
		slog.Int("cached", s.cache.Len()),
	)
	return nil
}
