// Package manage implements the management-tool operations that sit
// alongside the remote-helper protocol: set-head, login/logout/
// show-logins, and version.
package manage

import (
	"context"
	"fmt"

	"github.com/anishathalye/git-remote-dropbox/internal/credentials"
	"github.com/anishathalye/git-remote-dropbox/internal/refstore"
)

// Tool bundles the dependencies the management commands need.
type Tool struct {
	Refs  *refstore.Store
	Creds *credentials.Store
}

// New constructs a Tool.
func New(refs *refstore.Store, creds *credentials.Store) *Tool {
	return &Tool{Refs: refs, Creds: creds}
}

// SetHead CAS-updates the symbolic HEAD file to point at branch,
// bootstrapping HEAD if it does not exist yet. A concurrent writer
// racing this update surfaces as a blobstore.ErrRevMismatch.
func (t *Tool) SetHead(ctx context.Context, branch string) error {
	target := "refs/heads/" + branch
	_, rev, found, err := t.Refs.GetSymbolic(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("read current HEAD: %w", err)
	}
	if !found {
		return t.Refs.BootstrapHead(ctx, target)
	}
	// HEAD's update path reuses the blob store directly: RefStore does
	// not expose a put_update primitive for symbolic refs since nothing
	// else in the core needs one.
	content := []byte(fmt.Sprintf("ref: %s\n", target))
	if _, err := t.Refs.Blob.PutUpdate(ctx, "HEAD", content, rev); err != nil {
		return fmt.Errorf("set-head %s: %w", branch, err)
	}
	return nil
}

// Login saves token under account (the "default" account if empty).
func (t *Tool) Login(account, token string) error {
	t.Creds.Set(account, token)
	return t.Creds.Save()
}

// Logout removes the saved token for account, reporting whether one was
// present.
func (t *Tool) Logout(account string) (bool, error) {
	removed := t.Creds.Remove(account)
	if !removed {
		return false, nil
	}
	return true, t.Creds.Save()
}

// ShowLogins returns the names of every account with a saved token.
func (t *Tool) ShowLogins() []string {
	return t.Creds.Accounts()
}

// Version is the management tool's reported build version, set at link
// time via -ldflags (defaults to "dev" in unlinked builds).
var Version = "dev"
