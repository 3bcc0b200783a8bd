// Package transfer is the bounded-concurrency object transfer engine. It
// is the only place in this module where more than one goroutine
// touches the blob store or the local git repository at once; everything
// about Helper's orchestration above it is single-threaded.
//
// Retry-with-backoff around each individual store call is built on
// github.com/cenkalti/backoff/v4, used here as a direct, wired
// dependency for exactly this purpose.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore"
	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/gitproc"
	"github.com/anishathalye/git-remote-dropbox/internal/objectcodec"
)

// DefaultWorkers is the default bounded-parallelism level.
const DefaultWorkers = 8

// Engine drives concurrent upload/download against one repository.
type Engine struct {
	Blob    blobstore.Store
	Git     *gitproc.Git
	Workers int

	// Progress, if set, is called by UploadMissing after each object
	// upload completes, with the number uploaded so far and the batch
	// size. May be called concurrently from worker goroutines.
	// DownloadClosure does not call it.
	Progress func(done, total int)
}

// New returns an Engine with DefaultWorkers parallelism.
func New(blob blobstore.Store, git *gitproc.Git) *Engine {
	return &Engine{Blob: blob, Git: git, Workers: DefaultWorkers}
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return DefaultWorkers
	}
	return e.Workers
}

// retryPolicy is a bounded exponential backoff: base 250ms, cap 8s, full
// jitter, capped at 6 total attempts.
func retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 1 // full jitter
	return backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx)
}

// withRetry runs fn, retrying on blobstore.Retryable errors with bounded
// exponential backoff and full jitter, up to 6 total attempts. CAS
// conflicts (errs.Conflict / RevMismatch / AlreadyExists) are never
// retried here — those are real conflicts, not transient failures.
func withRetry(ctx context.Context, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !blobstore.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, retryPolicy(ctx))
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return errs.Wrap(errs.Transient, err, fmt.Sprintf("exhausted retries after %d attempts", attempt))
}

// UploadMissing uploads every object in want concurrently, bounded by
// e.workers(). An AlreadyExists response from the store is treated as
// success: another writer raced us to the same content-addressed path,
// and the bytes at that path are necessarily identical. A single
// terminal failure cancels outstanding
// work and is returned to the caller.
func (e *Engine) UploadMissing(ctx context.Context, want []string) error {
	var mu sync.Mutex
	uploaded := 0
	return e.fanOut(ctx, want, func(ctx context.Context, hash string) error {
		if err := e.uploadOne(ctx, hash); err != nil {
			return err
		}
		if e.Progress != nil {
			mu.Lock()
			uploaded++
			n := uploaded
			mu.Unlock()
			e.Progress(n, len(want))
		}
		return nil
	})
}

func (e *Engine) uploadOne(ctx context.Context, hash string) error {
	path, err := objectcodec.ObjectPath(hash)
	if err != nil {
		return err
	}

	payload, err := e.Git.CatObject(ctx, hash)
	if err != nil {
		return fmt.Errorf("read local object %s: %w", hash, err)
	}

	return withRetry(ctx, func() error {
		_, putErr := e.Blob.PutCreate(ctx, path, payload)
		if putErr != nil && errors.Is(putErr, blobstore.ErrAlreadyExists) {
			return nil
		}
		return putErr
	})
}

// DownloadClosure walks the object graph from roots, downloading every
// object not yet present locally and installing it via
// GitProcess.WriteObject. Pruning rule: a commit whose entire ancestry
// is already locally reachable stops the walk; trees and blobs stop the
// walk on local presence alone.
func (e *Engine) DownloadClosure(ctx context.Context, roots []string) error {
	visited := newHashSet()
	frontier := newWorkQueue(roots)

	var wg sync.WaitGroup
	errCh := make(chan error, e.workers())
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := func() {
		defer wg.Done()
		for {
			hash, ok := frontier.pop(cctx)
			if !ok {
				return
			}
			if !visited.addIfNew(hash) {
				frontier.done()
				continue
			}
			err := e.downloadOne(cctx, hash, frontier)
			frontier.done()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				cancel()
				return
			}
		}
	}

	n := e.workers()
	wg.Add(n)
	for i := 0; i < n; i++ {
		go worker()
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	return ctx.Err()
}

// downloadOne handles one node of the walk: prune, fetch+install, then
// enqueue referents.
func (e *Engine) downloadOne(ctx context.Context, hash string, frontier *workQueue) error {
	objType, locallyPresent, err := e.localObjectType(ctx, hash)
	if err != nil {
		return err
	}

	if locallyPresent {
		if objType == "commit" {
			closed, err := e.historyLocallyClosed(ctx, hash)
			if err != nil {
				return err
			}
			if closed {
				return nil // pruned: entire ancestry already local
			}
			// continue the walk through this commit's parents only
			_, parents, err := e.Git.CommitTree(ctx, hash)
			if err != nil {
				return err
			}
			frontier.pushAll(parents)
			return nil
		}
		// trees and blobs: local presence alone is sufficient to prune
		return nil
	}

	// Not present locally: fetch from the store, install, and recurse
	// into its referents.
	path, err := objectcodec.ObjectPath(hash)
	if err != nil {
		return err
	}

	var raw []byte
	if err := withRetry(ctx, func() error {
		data, _, getErr := e.Blob.Get(ctx, path)
		if getErr != nil {
			return getErr
		}
		raw = data
		return nil
	}); err != nil {
		return fmt.Errorf("download object %s: %w", hash, err)
	}

	objType, payload, err := objectcodec.Decode(raw)
	if err != nil {
		return err
	}
	gotHash := objectcodec.Hash(objType, payload)
	if gotHash != hash {
		return errs.New(errs.CorruptObject,
			fmt.Sprintf("downloaded object hash mismatch: wanted %s, got %s", hash, gotHash))
	}

	if _, err := e.Git.WriteObject(ctx, objType, payload); err != nil {
		return fmt.Errorf("install object %s: %w", hash, err)
	}

	return e.enqueueReferents(ctx, hash, objType, frontier)
}

func (e *Engine) enqueueReferents(ctx context.Context, hash, objType string, frontier *workQueue) error {
	switch objType {
	case "commit":
		tree, parents, err := e.Git.CommitTree(ctx, hash)
		if err != nil {
			return err
		}
		frontier.push(tree)
		frontier.pushAll(parents)
	case "tree":
		entries, err := e.Git.TreeEntries(ctx, hash)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			frontier.push(ent.Hash)
		}
	case "tag":
		target, err := e.Git.TagTarget(ctx, hash)
		if err != nil {
			return err
		}
		frontier.push(target)
	case "blob":
		// leaf
	default:
		return errs.New(errs.CorruptObject, fmt.Sprintf("object %s: unknown type %q", hash, objType))
	}
	return nil
}

func (e *Engine) localObjectType(ctx context.Context, hash string) (objType string, present bool, err error) {
	if !e.Git.HaveObject(ctx, hash) {
		return "", false, nil
	}
	t, err := e.Git.ObjectType(ctx, hash)
	if err != nil {
		return "", true, err
	}
	return t, true, nil
}

// historyLocallyClosed asks whether every ancestor of commitHash is
// already present locally, by walking parent links recursively and
// checking each parent commit with HaveObject. Only the ancestor commits
// themselves are checked, not their trees or blobs.
func (e *Engine) historyLocallyClosed(ctx context.Context, commitHash string) (bool, error) {
	_, parents, err := e.Git.CommitTree(ctx, commitHash)
	if err != nil {
		return false, err
	}
	for _, p := range parents {
		if !e.Git.HaveObject(ctx, p) {
			return false, nil
		}
		closed, err := e.historyLocallyClosed(ctx, p)
		if err != nil {
			return false, err
		}
		if !closed {
			return false, nil
		}
	}
	return true, nil
}

// fanOut runs fn(ctx, item) for every item with bounded parallelism,
// cancelling outstanding work on the first terminal failure.
func (e *Engine) fanOut(ctx context.Context, items []string, fn func(context.Context, string) error) error {
	if len(items) == 0 {
		return nil
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan string)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	n := e.workers()
	if n > len(items) {
		n = len(items)
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for item := range work {
				if err := fn(cctx, item); err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					return
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, item := range items {
			select {
			case work <- item:
			case <-cctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}
	return ctx.Err()
}
