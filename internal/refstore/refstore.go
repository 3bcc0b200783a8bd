// Package refstore implements reading, listing, CAS-updating, and
// deleting refs and the HEAD symbolic ref against the blob store. It is
// the distributed, transactional ref database the rest of the helper is
// built on top of.
//
// The compare-and-swap plumbing follows a pattern of translating one SDK
// call's result directly into a typed outcome.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore"
	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/gitproc"
	"github.com/anishathalye/git-remote-dropbox/internal/objectcodec"
)

// Ref is one direct ref's current value as observed in the store.
type Ref struct {
	Name string
	Hash string
	Rev  blobstore.Rev
}

// Expect describes the compare-and-swap precondition for UpdateRef:
// absent, at a known revision, or forced at a known (possibly absent)
// revision.
type Expect struct {
	kind    expectKind
	rev     blobstore.Rev
	present bool
}

type expectKind int

const (
	expectAbsent expectKind = iota
	expectRev
	expectForce
)

// Absent expects the ref does not yet exist (use put_create).
func Absent() Expect { return Expect{kind: expectAbsent} }

// AtRev expects the ref currently has revision rev (use put_update).
func AtRev(rev blobstore.Rev) Expect { return Expect{kind: expectRev, rev: rev} }

// Force skips the fast-forward/prior-value check a normal push would
// enforce, but still CASes against rev, the revision last observed for
// the ref (present reports whether the ref was observed to exist at
// all), so two concurrent force pushes racing the same stale view of
// the ref cannot silently lose one.
func Force(rev blobstore.Rev, present bool) Expect {
	return Expect{kind: expectForce, rev: rev, present: present}
}

// Store implements the ref database on top of a blobstore.Store rooted
// at one repository.
type Store struct {
	Blob blobstore.Store
	Git  *gitproc.Git // used only for the fast-forward ancestry check
}

// New returns a ref Store backed by blob, scoped to one repository root.
func New(blob blobstore.Store, git *gitproc.Git) *Store {
	return &Store{Blob: blob, Git: git}
}

// ListRefs scans refs/ recursively, ignoring entries whose content is
// not a bare 40-hex hash (a single trailing newline is accepted but not
// required) and entries that cannot be read; each ignored entry yields a
// warning.
func (s *Store) ListRefs(ctx context.Context) (map[string]Ref, []string, error) {
	entries, err := s.Blob.List(ctx, "refs/")
	if err != nil {
		return nil, nil, fmt.Errorf("list refs: %w", err)
	}

	refs := make(map[string]Ref, len(entries))
	var warnings []string
	for _, e := range entries {
		data, _, getErr := s.Blob.Get(ctx, e.Path)
		if getErr != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", e.Path, getErr))
			continue
		}
		hash := strings.TrimSuffix(string(data), "\n")
		if !objectcodec.IsHash(hash) {
			warnings = append(warnings, fmt.Sprintf("%s: not a hash-shaped ref content %q, ignoring", e.Path, hash))
			continue
		}
		refs[e.Path] = Ref{Name: e.Path, Hash: hash, Rev: e.Rev}
	}
	return refs, warnings, nil
}

// SortedNames returns the names of a ref map in sorted order, for stable
// `list` protocol output.
func SortedNames(refs map[string]Ref) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSymbolic reads a symbolic ref file (e.g. "HEAD") and parses its
// "ref: <target>\n" content.
func (s *Store) GetSymbolic(ctx context.Context, name string) (target string, rev blobstore.Rev, found bool, err error) {
	data, rev, err := s.Blob.Get(ctx, name)
	if err != nil {
		if blobstore.Retryable(err) {
			return "", "", false, fmt.Errorf("get symbolic ref %s: %w", name, err)
		}
		return "", "", false, nil //nolint:nilerr // absent symref is not an error condition
	}
	content := strings.TrimSuffix(string(data), "\n")
	target, ok := strings.CutPrefix(content, "ref: ")
	if !ok {
		return "", "", false, errs.New(errs.CorruptObject, fmt.Sprintf("%s: malformed symbolic ref %q", name, content))
	}
	return target, rev, true, nil
}

// BootstrapHead creates HEAD as a symbolic ref pointing at target, using
// put_create so a concurrent bootstrap from another client is detected
// rather than silently overwritten.
func (s *Store) BootstrapHead(ctx context.Context, target string) error {
	content := fmt.Sprintf("ref: %s\n", target)
	_, err := s.Blob.PutCreate(ctx, "HEAD", []byte(content))
	if err != nil {
		if isAlreadyExists(err) {
			// Another client bootstrapped concurrently; that's fine,
			// whatever they set becomes the repository's HEAD.
			return nil
		}
		return fmt.Errorf("bootstrap HEAD: %w", err)
	}
	return nil
}

// UpdateRef performs a guarded update of a direct ref.
// On a concurrent conflict it returns an *errs.Error of kind
// errs.Conflict, scoped to name, so the push handler can report "fetch
// first" without treating it as fatal.
func (s *Store) UpdateRef(ctx context.Context, name, newHash string, expect Expect) error {
	content := []byte(newHash + "\n")
	var err error
	switch expect.kind {
	case expectAbsent:
		_, err = s.Blob.PutCreate(ctx, name, content)
	case expectRev:
		_, err = s.Blob.PutUpdate(ctx, name, content, expect.rev)
	case expectForce:
		if expect.present {
			_, err = s.Blob.PutUpdate(ctx, name, content, expect.rev)
		} else {
			_, err = s.Blob.PutCreate(ctx, name, content)
		}
	}
	if err == nil {
		return nil
	}
	if isAlreadyExists(err) || isRevMismatch(err) {
		return errs.WrapRef(errs.Conflict, name, err, "ref update conflict")
	}
	return fmt.Errorf("update ref %s: %w", name, err)
}

// DeleteRef removes a direct ref, refusing if name is the branch HEAD
// currently points to.
func (s *Store) DeleteRef(ctx context.Context, name string, expectRev blobstore.Rev) error {
	headTarget, _, found, err := s.GetSymbolic(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolve HEAD before delete: %w", err)
	}
	if found && headTarget == name {
		return errs.NewRef(errs.HEADProtected, name, "refusing to delete the HEAD branch")
	}

	if err := s.Blob.Delete(ctx, name, expectRev); err != nil {
		if isRevMismatch(err) || isNotFound(err) {
			return errs.WrapRef(errs.Conflict, name, err, "delete ref conflict")
		}
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// CheckFastForward asserts old is an ancestor of new via `git merge-base
// --is-ancestor`. Returns an
// *errs.Error of kind errs.NonFastForward if not.
func (s *Store) CheckFastForward(ctx context.Context, ref, oldHash, newHash string) error {
	ok, err := s.Git.IsAncestor(ctx, oldHash, newHash)
	if err != nil {
		return fmt.Errorf("fast-forward check for %s: %w", ref, err)
	}
	if !ok {
		return errs.NewRef(errs.NonFastForward, ref, "non-fast-forward")
	}
	return nil
}

func isAlreadyExists(err error) bool { return errIsWrapped(err, blobstore.ErrAlreadyExists) }
func isRevMismatch(err error) bool   { return errIsWrapped(err, blobstore.ErrRevMismatch) }
func isNotFound(err error) bool      { return errIsWrapped(err, blobstore.ErrNotFound) }

func errIsWrapped(err, target error) bool {
	return errors.Is(err, target)
}
