// Package gitjobdir implements the working-directory cache: a bounded
// pool of git checkouts keyed by (repo, commit, scope), with reference
// counting, LRU eviction of the shared pool, and exclusive per-job
// leases that bypass the capacity bound entirely.
//
// No original reference implementation exists for this component (the
// upstream project treats it as an external collaborator); the
// concurrency shape below — a single mutex guarding a map plus an LRU
// list, with per-key materialization happening outside the lock and
// callers for the same key blocking on a close-once channel — follows
// the mutex-guarded-map idiom used throughout the teacher codebase
// (internal/worker/worker.go's activeJobs map, internal/daemon/server.go's
// client registry).
package gitjobdir

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Key identifies one cache slot. Scope distinguishes sharing domains:
// for a shared lease it is the worker slot identifier (so jobs on the
// same slot reuse a checkout); for an exclusive lease it is a token
// unique to that single job execution, guaranteeing no sharing.
type Key struct {
	Repo   string
	Commit string
	Scope  string
}

// Cloner materializes a checkout of (repo, commit) into dir. Grounded on
// the teacher's internal/worker/clone.go GitCloner.Clone, generalized
// from its fixed branch/token clone flow to the plain (repo, commit)
// shape this system's jobs carry.
type Cloner interface {
	Clone(ctx context.Context, repo, commit, dir string) error
}

type entry struct {
	key       Key
	exclusive bool
	refcount  int
	path      string
	err       error
	ready     chan struct{}
	elem      *list.Element // non-nil while parked in the LRU (refcount == 0, shared only)
}

// Cache is the working-directory cache described above.
type Cache struct {
	root     string
	capacity int
	cloner   Cloner
	log      *slog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	entries     map[Key]*entry
	lru         *list.List // of *entry, oldest-evictable at Front
	sharedCount int
}

// New creates a cache rooted at root (created if missing) with capacity
// non-exclusive entries.
func New(root string, capacity int, cloner Cloner, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("gitjobdir: create root: %w", err)
	}
	c := &Cache{
		root:     root,
		capacity: capacity,
		cloner:   cloner,
		log:      log,
		entries:  make(map[Key]*entry),
		lru:      list.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Get acquires a checkout for key, materializing it if necessary. The
// returned release func must be called exactly once when the caller is
// done with the path.
func (c *Cache) Get(ctx context.Context, key Key, exclusive bool) (path string, release func(), err error) {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok {
		e.refcount++
		if e.elem != nil {
			c.lru.Remove(e.elem)
			e.elem = nil
		}
		c.mu.Unlock()
		<-e.ready
		if e.err != nil {
			c.releaseFailed(key)
			return "", nil, e.err
		}
		return e.path, c.releaseFunc(key), nil
	}

	if !exclusive {
		for c.sharedCount >= c.capacity {
			if !c.evictOneLocked() {
				// No evictable entry: block until Release() frees one.
				// Cancellation of ctx is not observed here since
				// sync.Cond has no select-friendly wait; a capacity
				// stall is expected to resolve quickly in practice
				// (some in-flight job releases its lease) and the
				// caller's own command timeout bounds worst case.
				c.cond.Wait()
			}
		}
		c.sharedCount++
	}

	e := &entry{key: key, exclusive: exclusive, refcount: 1, ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	dest := filepath.Join(c.root, sanitize(key))
	cloneErr := c.cloner.Clone(ctx, key.Repo, key.Commit, dest)

	c.mu.Lock()
	if cloneErr != nil {
		e.err = fmt.Errorf("gitjobdir: materialize %s@%s: %w", key.Repo, key.Commit, cloneErr)
		delete(c.entries, key)
		if !exclusive {
			c.sharedCount--
			c.cond.Broadcast()
		}
		c.mu.Unlock()
		close(e.ready)
		os.RemoveAll(dest)
		return "", nil, e.err
	}
	e.path = dest
	c.mu.Unlock()
	close(e.ready)

	return e.path, c.releaseFunc(key), nil
}

func (c *Cache) releaseFunc(key Key) func() {
	var once sync.Once
	return func() {
		once.Do(func() { c.release(key) })
	}
}

func (c *Cache) releaseFailed(key Key) {
	// A caller that lost the materialization race still incremented
	// refcount; undo it so the (already-removed) entry doesn't leak a
	// count. Safe no-op if the entry is already gone.
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.refcount--
	}
}

func (c *Cache) release(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount > 0 {
		return
	}

	if e.exclusive {
		delete(c.entries, key)
		path := e.path
		go func() {
			if err := os.RemoveAll(path); err != nil {
				c.log.Warn("gitjobdir: cleanup exclusive checkout failed", "path", path, "error", err)
			}
		}()
		return
	}

	e.elem = c.lru.PushBack(e)
	c.cond.Broadcast()
}

// evictOneLocked removes the oldest zero-refcount shared entry, if any.
// Caller must hold c.mu.
func (c *Cache) evictOneLocked() bool {
	front := c.lru.Front()
	if front == nil {
		return false
	}
	e := front.Value.(*entry)
	c.lru.Remove(front)
	delete(c.entries, e.key)
	c.sharedCount--
	if err := os.RemoveAll(e.path); err != nil {
		c.log.Warn("gitjobdir: cleanup evicted checkout failed", "path", e.path, "error", err)
	}
	return true
}

// Cleanup removes every cached checkout and the cache root itself,
// called on worker shutdown.
func (c *Cache) Cleanup() error {
	c.mu.Lock()
	c.entries = make(map[Key]*entry)
	c.lru.Init()
	c.sharedCount = 0
	c.mu.Unlock()
	return os.RemoveAll(c.root)
}

func sanitize(key Key) string {
	clean := func(s string) string {
		out := make([]rune, 0, len(s))
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				out = append(out, r)
			default:
				out = append(out, '_')
			}
		}
		return string(out)
	}
	return fmt.Sprintf("%s-%s-%s", clean(key.Repo), clean(key.Commit), clean(key.Scope))
}
