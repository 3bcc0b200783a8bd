// Package helper implements the remote-helper line protocol and the
// push/fetch orchestration that drives RefStore, Transfer, and
// GitProcess together. It is the only package that speaks the Git
// remote-helper wire format.
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/gitproc"
	"github.com/anishathalye/git-remote-dropbox/internal/logging"
	"github.com/anishathalye/git-remote-dropbox/internal/refstore"
	"github.com/anishathalye/git-remote-dropbox/internal/transfer"
)

// Helper drives one remote-helper session: reads commands from stdin,
// writes protocol responses to stdout, and logs diagnostics to stderr
// via Log.
type Helper struct {
	Git      *gitproc.Git
	Refs     *refstore.Store
	Transfer *transfer.Engine
	Log      *logging.Logger
}

// New constructs a Helper wired to one repository.
func New(git *gitproc.Git, refs *refstore.Store, xfer *transfer.Engine, log *logging.Logger) *Helper {
	if log == nil {
		log = logging.New()
	}
	return &Helper{Git: git, Refs: refs, Transfer: xfer, Log: log}
}

// Run reads commands from in and writes responses to out until EOF,
// dispatching each command per the remote-helper protocol. It returns a
// non-nil error only for conditions the session cannot recover from;
// per-push failures are reported in-band as "error <ref> <reason>" lines
// and do not stop the loop.
func (h *Helper) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(out)
	defer w.Flush() //nolint:errcheck

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "capabilities":
			if err := h.handleCapabilities(w); err != nil {
				return err
			}
		case line == "list" || line == "list for-push":
			if err := h.handleList(ctx, w); err != nil {
				return err
			}
		case strings.HasPrefix(line, "option "):
			if err := h.handleOption(line, w); err != nil {
				return err
			}
		case strings.HasPrefix(line, "push "):
			if err := h.handlePushBatch(ctx, scanner, line, w); err != nil {
				return err
			}
		case strings.HasPrefix(line, "fetch "):
			if err := h.handleFetchBatch(ctx, scanner, line, w); err != nil {
				return err
			}
		case line == "":
			// stray blank line between commands; ignore
		default:
			return errs.New(errs.Protocol, fmt.Sprintf("unrecognized command %q", line))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write protocol response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.Protocol, err, "read command")
	}
	return nil
}

func (h *Helper) handleCapabilities(w *bufio.Writer) error {
	for _, capability := range []string{"option", "push", "fetch"} {
		if _, err := fmt.Fprintln(w, capability); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

var understoodOptions = map[string]bool{
	"verbosity": true,
	"progress":  true,
	"cloning":   true,
}

func (h *Helper) handleOption(line string, w *bufio.Writer) error {
	fields := strings.Fields(strings.TrimPrefix(line, "option "))
	if len(fields) == 0 {
		return errs.New(errs.Protocol, "malformed option command")
	}
	name := fields[0]
	if !understoodOptions[name] {
		_, err := fmt.Fprintln(w, "unsupported")
		return err
	}
	if name == "verbosity" && len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			h.Log.SetLevel(logging.Level(n - 1))
		}
	}
	_, err := fmt.Fprintln(w, "ok")
	return err
}

func (h *Helper) handleList(ctx context.Context, w *bufio.Writer) error {
	refs, warnings, err := h.Refs.ListRefs(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "list refs")
	}
	for _, warning := range warnings {
		h.Log.Infof("warning: %s", warning)
	}

	names := refstore.SortedNames(refs)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s %s\n", refs[name].Hash, name); err != nil {
			return err
		}
	}

	target, _, found, err := h.Refs.GetSymbolic(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	if found {
		if _, err := fmt.Fprintf(w, "@%s HEAD\n", target); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}

// pushRequest is one parsed "[+]src:dst" push line.
type pushRequest struct {
	force bool
	src   string
	dst   string
}

func parsePushLine(line string) (pushRequest, error) {
	spec := strings.TrimPrefix(line, "push ")
	var req pushRequest
	if strings.HasPrefix(spec, "+") {
		req.force = true
		spec = spec[1:]
	}
	colon := strings.IndexByte(spec, ':')
	if colon < 0 {
		return pushRequest{}, errs.New(errs.Protocol, fmt.Sprintf("malformed push spec %q", spec))
	}
	req.src = spec[:colon]
	req.dst = spec[colon+1:]
	if req.dst == "" {
		return pushRequest{}, errs.New(errs.Protocol, fmt.Sprintf("malformed push spec %q: empty dst", spec))
	}
	return req, nil
}

func (h *Helper) handlePushBatch(ctx context.Context, scanner *bufio.Scanner, firstLine string, w *bufio.Writer) error {
	lines := []string{firstLine}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	requests := make([]pushRequest, 0, len(lines))
	for _, line := range lines {
		req, err := parsePushLine(line)
		if err != nil {
			return err
		}
		requests = append(requests, req)
	}

	if err := h.maybeBootstrapHead(ctx, requests); err != nil {
		return fmt.Errorf("bootstrap HEAD: %w", err)
	}

	for _, req := range requests {
		if err := h.processPush(ctx, req, w); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// maybeBootstrapHead handles first-push-to-a-nonexistent-repository: HEAD
// is created as a symbolic ref pointing at whichever destination in the
// batch matches the pusher's own checked-out branch, mirroring what a
// freshly created bare repository's HEAD would track; if the local HEAD
// isn't among the destinations (or can't be resolved), it falls back to
// the first non-delete destination in the batch.
func (h *Helper) maybeBootstrapHead(ctx context.Context, requests []pushRequest) error {
	_, _, found, err := h.Refs.GetSymbolic(ctx, "HEAD")
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	localHead, err := h.Git.SymbolicRef(ctx, "HEAD")
	if err == nil && localHead != "" {
		for _, req := range requests {
			if req.src != "" && req.dst == localHead {
				return h.Refs.BootstrapHead(ctx, req.dst)
			}
		}
	}

	for _, req := range requests {
		if req.src == "" {
			continue // a delete can't bootstrap HEAD
		}
		return h.Refs.BootstrapHead(ctx, req.dst)
	}
	return nil
}

func (h *Helper) processPush(ctx context.Context, req pushRequest, w *bufio.Writer) error {
	newHash := ""
	if req.src != "" {
		hash, err := h.Git.ResolveRef(ctx, req.src)
		if err != nil {
			return h.reportOrFail(w, req.dst, errs.Wrap(errs.Protocol, err, "resolve push source"))
		}
		newHash = hash
	}

	remoteRefs, _, err := h.Refs.ListRefs(ctx)
	if err != nil {
		return fmt.Errorf("list refs before push: %w", err)
	}
	current, present := remoteRefs[req.dst]

	headTarget, _, headFound, err := h.Refs.GetSymbolic(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolve HEAD before push: %w", err)
	}

	if newHash == "" {
		// delete
		if headFound && headTarget == req.dst {
			return h.reportOrFail(w, req.dst, errs.NewRef(errs.HEADProtected, req.dst, "refusing to delete the HEAD branch"))
		}
		if !present {
			_, err := fmt.Fprintf(w, "ok %s\n", req.dst)
			return err
		}
		if err := h.Refs.DeleteRef(ctx, req.dst, current.Rev); err != nil {
			return h.reportOrFail(w, req.dst, err)
		}
		_, err := fmt.Fprintf(w, "ok %s\n", req.dst)
		return err
	}

	if !req.force && present {
		if err := h.Refs.CheckFastForward(ctx, req.dst, current.Hash, newHash); err != nil {
			return h.reportOrFail(w, req.dst, err)
		}
	}

	exclude := make([]string, 0, len(remoteRefs))
	for _, r := range remoteRefs {
		exclude = append(exclude, r.Hash)
	}
	missing, err := h.Git.RevListMissing(ctx, []string{newHash}, exclude)
	if err != nil {
		return fmt.Errorf("compute missing objects for %s: %w", req.dst, err)
	}
	if err := h.Transfer.UploadMissing(ctx, missing); err != nil {
		return h.reportOrFail(w, req.dst, fmt.Errorf("upload objects for %s: %w", req.dst, err))
	}

	var expect refstore.Expect
	switch {
	case req.force:
		expect = refstore.Force(current.Rev, present)
	case present:
		expect = refstore.AtRev(current.Rev)
	default:
		expect = refstore.Absent()
	}
	if err := h.Refs.UpdateRef(ctx, req.dst, newHash, expect); err != nil {
		return h.reportOrFail(w, req.dst, err)
	}
	_, err = fmt.Fprintf(w, "ok %s\n", req.dst)
	return err
}

// reportOrFail writes "error <ref> <reason>" for errors scoped to one
// push and returns nil so the batch continues; it returns the error
// itself (terminating the session) for anything errs.IsFatal reports
// fatal.
func (h *Helper) reportOrFail(w *bufio.Writer, ref string, err error) error {
	if err == nil {
		return nil
	}
	reason := reasonFor(err)
	if errs.IsFatal(err) && reason == "" {
		return err
	}
	if _, werr := fmt.Fprintf(w, "error %s %s\n", ref, reason); werr != nil {
		return werr
	}
	return nil
}

func reasonFor(err error) string {
	kind, ok := errs.KindOf(err)
	if !ok {
		return ""
	}
	switch kind {
	case errs.NonFastForward:
		return "non-fast-forward"
	case errs.Conflict:
		return "fetch first"
	case errs.HEADProtected:
		return "HEAD protected"
	default:
		return ""
	}
}

func (h *Helper) handleFetchBatch(ctx context.Context, scanner *bufio.Scanner, firstLine string, w *bufio.Writer) error {
	lines := []string{firstLine}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	rootSet := map[string]struct{}{}
	for _, line := range lines {
		fields := strings.Fields(strings.TrimPrefix(line, "fetch "))
		if len(fields) < 1 {
			return errs.New(errs.Protocol, fmt.Sprintf("malformed fetch line %q", line))
		}
		rootSet[fields[0]] = struct{}{}
	}

	roots := make([]string, 0, len(rootSet))
	for hash := range rootSet {
		roots = append(roots, hash)
	}
	sort.Strings(roots)

	if err := h.Transfer.DownloadClosure(ctx, roots); err != nil {
		return fmt.Errorf("download closure: %w", err)
	}
	_, err := fmt.Fprintln(w)
	return err
}
