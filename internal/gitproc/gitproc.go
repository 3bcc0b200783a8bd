// Package gitproc is a thin wrapper around the local git executable. It
// is the only component that touches the on-disk repository directly;
// everything else in this module talks to it instead of shelling out
// itself.
//
// The shape of this wrapper — a single exec.CommandContext invocation,
// captured stdout/stderr buffers, stdin piping, explicit context
// cancellation — is the same one a generic retrying shell wrapper uses,
// minus the retry: git invocations here are not retried, since a local
// git failure is fatal, not transient.
package gitproc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/objectcodec"
)

// Git wraps invocations of the local git binary against one repository
// (GIT_DIR).
type Git struct {
	// GitDir is passed as --git-dir to every invocation. Empty means
	// "use the process's ambient GIT_DIR / discovery".
	GitDir string
}

// New returns a Git wrapper bound to gitDir.
func New(gitDir string) *Git {
	return &Git{GitDir: gitDir}
}

func (g *Git) args(argv ...string) []string {
	if g.GitDir == "" {
		return argv
	}
	return append([]string{"--git-dir=" + g.GitDir}, argv...)
}

// run executes git with argv, feeding stdin (if non-nil) and returning
// stdout. A nonzero exit or spawn failure is always fatal (errs.Protocol
// for bad git invocations is not applicable here; we use errs.CorruptObject
// for failures that indicate a bad object and a bare wrapped error
// otherwise — callers that know better classify further).
func (g *Git) run(ctx context.Context, stdin []byte, argv ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", g.args(argv...)...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(argv, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// RevListMissing yields every object reachable from include but not from
// any of exclude, by invoking `git rev-list --objects <include…> --not
// <exclude…>` and taking the leading hash of each output line.
func (g *Git) RevListMissing(ctx context.Context, include, exclude []string) ([]string, error) {
	argv := []string{"rev-list", "--objects"}
	argv = append(argv, include...)
	if len(exclude) > 0 {
		argv = append(argv, "--not")
		argv = append(argv, exclude...)
	}

	out, err := g.run(ctx, nil, argv...)
	if err != nil {
		return nil, fmt.Errorf("rev-list missing objects: %w", err)
	}

	var hashes []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		// each line is "<hash>" or "<hash> <path>"
		hash := line
		if sp := strings.IndexByte(line, ' '); sp >= 0 {
			hash = line[:sp]
		}
		hashes = append(hashes, hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan rev-list output: %w", err)
	}
	return hashes, nil
}

// CatObject reads the loose-object-encoded bytes (zlib-compressed,
// header-prefixed) of an object already present in the local repository.
func (g *Git) CatObject(ctx context.Context, hash string) ([]byte, error) {
	objType, err := g.typeOf(ctx, hash)
	if err != nil {
		return nil, err
	}
	payload, err := g.run(ctx, nil, "cat-file", objType, hash)
	if err != nil {
		return nil, errs.Wrap(errs.CorruptObject, err, fmt.Sprintf("cat-file %s", hash))
	}
	return objectcodec.Encode(objType, payload), nil
}

func (g *Git) typeOf(ctx context.Context, hash string) (string, error) {
	out, err := g.run(ctx, nil, "cat-file", "-t", hash)
	if err != nil {
		return "", errs.Wrap(errs.CorruptObject, err, fmt.Sprintf("object %s not local", hash))
	}
	return strings.TrimSpace(string(out)), nil
}

// WriteObject feeds raw object payload bytes of the given type into the
// local repository via `git hash-object -w --stdin -t <type>`, returning
// the resulting hash. It is idempotent: writing identical content twice
// is a no-op server-side in git's own object store.
func (g *Git) WriteObject(ctx context.Context, objType string, payload []byte) (string, error) {
	out, err := g.run(ctx, payload, "hash-object", "-w", "--stdin", "-t", objType)
	if err != nil {
		return "", errs.Wrap(errs.CorruptObject, err, "hash-object -w")
	}
	return strings.TrimSpace(string(out)), nil
}

// HaveObject reports whether hash is already present in the local
// object database.
func (g *Git) HaveObject(ctx context.Context, hash string) bool {
	_, err := g.run(ctx, nil, "cat-file", "-e", hash)
	return err == nil
}

// SymbolicRef resolves one level of symbolic ref (e.g. HEAD), returning
// the target refname, or "" if name does not resolve to a symref. Used
// to seed a newly bootstrapped remote HEAD from the pusher's own
// checked-out branch.
func (g *Git) SymbolicRef(ctx context.Context, name string) (string, error) {
	out, err := g.run(ctx, nil, "symbolic-ref", "-q", name)
	if err != nil {
		// symbolic-ref exits nonzero both for "not a symref" and "not
		// found" — neither is fatal here, just "no symref".
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

// IsAncestor reports whether commit `ancestor` is reachable from
// `descendant`, via `git merge-base --is-ancestor`.
func (g *Git) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", g.args("merge-base", "--is-ancestor", ancestor, descendant)...)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if isExitError(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("merge-base --is-ancestor %s %s: %w", ancestor, descendant, err)
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// TreeEntries returns the (hash, type) pairs directly referenced by a
// tree object: subtrees and blobs.
type TreeEntry struct {
	Hash string
	Type string // "blob" or "tree"
}

func (g *Git) TreeEntries(ctx context.Context, treeHash string) ([]TreeEntry, error) {
	out, err := g.run(ctx, nil, "ls-tree", treeHash)
	if err != nil {
		return nil, errs.Wrap(errs.CorruptObject, err, fmt.Sprintf("ls-tree %s", treeHash))
	}
	var entries []TreeEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		// "<mode> <type> <hash>\t<name>"
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		fields := strings.Fields(line[:tab])
		if len(fields) != 3 {
			continue
		}
		entries = append(entries, TreeEntry{Hash: fields[2], Type: fields[1]})
	}
	return entries, nil
}

// CommitTree returns the tree hash and parent hashes of a commit, and
// TagTarget returns the tagged object hash of a tag object — both used
// while walking the object graph on fetch.
func (g *Git) CommitTree(ctx context.Context, commitHash string) (tree string, parents []string, err error) {
	out, err := g.run(ctx, nil, "log", "-1", "--format=%T%n%P", commitHash)
	if err != nil {
		return "", nil, errs.Wrap(errs.CorruptObject, err, fmt.Sprintf("commit %s", commitHash))
	}
	lines := strings.SplitN(strings.TrimRight(string(out), "\n"), "\n", 2)
	tree = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		parents = strings.Fields(lines[1])
	}
	return tree, parents, nil
}

func (g *Git) TagTarget(ctx context.Context, tagHash string) (string, error) {
	out, err := g.run(ctx, nil, "cat-file", "tag", tagHash)
	if err != nil {
		return "", errs.Wrap(errs.CorruptObject, err, fmt.Sprintf("tag %s", tagHash))
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "object ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "object ")), nil
		}
	}
	return "", errs.New(errs.CorruptObject, fmt.Sprintf("tag %s: no object header", tagHash))
}

// ObjectType returns the type of a locally-present object.
func (g *Git) ObjectType(ctx context.Context, hash string) (string, error) {
	return g.typeOf(ctx, hash)
}

// ResolveRef resolves a local ref or revision expression to its object
// hash via `git rev-parse`.
func (g *Git) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, nil, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), nil
}
