// Package artifact resolves named model bundles for the inference core.
//
// A Store looks a bundle up in its in-memory cache, then in a local
// directory, and finally asks an optional Remote for the bytes. Remote
// downloads are decoded before they are persisted, so a failed or corrupt
// download never leaves anything behind in the directory. Resolution is
// single-flighted per name and successful results are cached for the
// lifetime of the Store.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"parkinson-voice/pkg/bundle"
)

// ErrArtifactUnavailable matches every resolution failure.
var ErrArtifactUnavailable = errors.New("artifact unavailable")

// Kind classifies why a bundle could not be resolved.
type Kind int

const (
	// KindAbsent means the bundle is neither on disk nor available
	// remotely. Retrying will not help.
	KindAbsent Kind = iota
	// KindTransient means a remote was reachable in principle but the
	// transfer failed. A later attempt may succeed.
	KindTransient
	// KindCorrupt means bytes were found but did not decode to a valid
	// bundle. Refresh re-downloads a corrupt local copy.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindTransient:
		return "transient"
	case KindCorrupt:
		return "corrupt"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by Store for any bundle that could not be resolved.
type Error struct {
	Name string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("artifact %q: %s", e.Name, e.Kind)
	}
	return fmt.Sprintf("artifact %q: %s: %v", e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrArtifactUnavailable }

// Retryable reports whether another attempt might succeed.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// Remote fetches bundle bytes by file name. Implementations return an
// error wrapping os.ErrNotExist when the object does not exist.
type Remote interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Options configures a Store.
type Options struct {
	// Dir holds the local bundle files. It is created on first write.
	Dir string
	// Remote is consulted on a local miss. Nil disables the fallback.
	Remote Remote
	// FetchTimeout bounds a single remote download. Zero means one minute.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Store resolves and caches bundles. It is safe for concurrent use.
type Store struct {
	dir     string
	remote  Remote
	timeout time.Duration
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]*bundle.Bundle
	group singleflight.Group
}

func New(opts Options) *Store {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		dir:     opts.Dir,
		remote:  opts.Remote,
		timeout: opts.FetchTimeout,
		log:     opts.Logger.With("component", "artifact"),
		cache:   make(map[string]*bundle.Bundle),
	}
}

// HasRemote reports whether a remote fallback is configured.
func (s *Store) HasRemote() bool { return s.remote != nil }

// Cached returns the bundle if it has already been resolved.
func (s *Store) Cached(name string) (*bundle.Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.cache[name]
	return b, ok
}

// Resolve returns the named bundle, loading it on first use.
func (s *Store) Resolve(ctx context.Context, name string) (*bundle.Bundle, error) {
	if b, ok := s.Cached(name); ok {
		return b, nil
	}
	return s.do(ctx, "resolve:"+name, func(ctx context.Context) (*bundle.Bundle, error) {
		if b, ok := s.Cached(name); ok {
			return b, nil
		}
		return s.load(ctx, name, false)
	})
}

// Refresh discards the local copy of name and downloads it again. The
// cached bundle is replaced only if the download succeeds.
func (s *Store) Refresh(ctx context.Context, name string) (*bundle.Bundle, error) {
	return s.do(ctx, "refresh:"+name, func(ctx context.Context) (*bundle.Bundle, error) {
		return s.load(ctx, name, true)
	})
}

// Preload resolves every name concurrently and returns the first error.
func (s *Store) Preload(ctx context.Context, names ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := s.Resolve(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// do runs fn once per key. The shared work is detached from the
// cancellation of whichever caller started it; every caller still returns
// as soon as its own context is done.
func (s *Store) do(ctx context.Context, key string, fn func(context.Context) (*bundle.Bundle, error)) (*bundle.Bundle, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*bundle.Bundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) load(ctx context.Context, name string, force bool) (*bundle.Bundle, error) {
	if err := checkName(name); err != nil {
		return nil, &Error{Name: name, Kind: KindAbsent, Err: err}
	}
	path := filepath.Join(s.dir, name)

	if !force {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			b, err := bundle.Decode(data, bundle.EncodingOf(name))
			if err != nil {
				s.log.Error("local bundle failed to decode", "name", name, "path", path, "error", err)
				return nil, &Error{Name: name, Kind: KindCorrupt, Err: err}
			}
			s.log.Info("loaded bundle", "name", name, "source", "local", "version", b.Version)
			return s.store(name, b), nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, &Error{Name: name, Kind: KindTransient, Err: err}
		}
	}

	if s.remote == nil {
		return nil, &Error{Name: name, Kind: KindAbsent, Err: fmt.Errorf("not found in %s and no remote configured", s.dir)}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.remote.Fetch(fetchCtx, name)
	if err != nil {
		kind := KindTransient
		if errors.Is(err, os.ErrNotExist) {
			kind = KindAbsent
		}
		s.log.Warn("remote fetch failed", "name", name, "kind", kind, "error", err)
		return nil, &Error{Name: name, Kind: kind, Err: err}
	}

	b, err := bundle.Decode(data, bundle.EncodingOf(name))
	if err != nil {
		return nil, &Error{Name: name, Kind: KindCorrupt, Err: err}
	}
	if err := writeFile(s.dir, name, data); err != nil {
		// The bundle is usable; only the on-disk cache failed.
		s.log.Warn("write-through failed", "name", name, "error", err)
	}
	s.log.Info("loaded bundle", "name", name, "source", "remote", "version", b.Version, "bytes", len(data))
	return s.store(name, b), nil
}

func (s *Store) store(name string, b *bundle.Bundle) *bundle.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = b
	return b
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid bundle name %q", name)
	}
	return nil
}

// writeFile persists data atomically via a temp file in the same directory.
func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
