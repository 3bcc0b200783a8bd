// Package dropboxurl decodes the dropbox:// remote URL grammar
// into a token selector and a normalized repository
// root.
package dropboxurl

import (
	"fmt"
	"path"
	"strings"

	"github.com/anishathalye/git-remote-dropbox/internal/errs"
)

// Scheme is the URL scheme git invokes this helper for.
const Scheme = "dropbox"

// URL is the parsed form of a dropbox:// remote.
//
// Grammar: dropbox://[user|:token][@]/absolute/path
//
//	dropbox:///foo/bar        -> TokenSelector: "", RepoRoot: "/foo/bar"
//	dropbox://work@/foo       -> TokenSelector: "work", RepoRoot: "/foo"
//	dropbox://:TOKEN@/foo     -> InlineToken: "TOKEN", RepoRoot: "/foo"
type URL struct {
	// TokenSelector names an account in the credentials file
	// (see internal/credentials). Empty means "default".
	TokenSelector string

	// InlineToken is set when the URL embeds a literal bearer token
	// (the ":token@" form) instead of naming an account.
	InlineToken string

	// RepoRoot is the normalized, absolute, POSIX-style path with no
	// trailing slash.
	RepoRoot string
}

// Parse decodes a dropbox:// URL. Malformed URLs return a *errs.Error of
// kind errs.Config, terminal to the calling helper invocation.
func Parse(raw string) (*URL, error) {
	const prefix = Scheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return nil, errs.New(errs.Config, fmt.Sprintf("not a %s:// url: %q", Scheme, raw))
	}
	rest := raw[len(prefix):]

	var userinfo string
	if at := strings.IndexByte(rest, '/'); at >= 0 {
		// Split userinfo (if any) from the leading "/absolute/path".
		if idx := strings.IndexByte(rest[:at], '@'); idx >= 0 {
			userinfo = rest[:idx]
			rest = rest[idx+1:]
		}
	} else {
		return nil, errs.New(errs.Config, fmt.Sprintf("%s: missing absolute repo path", raw))
	}

	if !strings.HasPrefix(rest, "/") {
		return nil, errs.New(errs.Config, fmt.Sprintf("%s: repo path must be absolute", raw))
	}

	root := path.Clean(rest)
	if root != "/" {
		root = strings.TrimSuffix(root, "/")
	}

	u := &URL{RepoRoot: root}
	switch {
	case userinfo == "":
		// default account
	case strings.HasPrefix(userinfo, ":"):
		u.InlineToken = userinfo[1:]
		if u.InlineToken == "" {
			return nil, errs.New(errs.Config, fmt.Sprintf("%s: empty inline token", raw))
		}
	default:
		if strings.Contains(userinfo, ":") {
			return nil, errs.New(errs.Config, fmt.Sprintf("%s: malformed userinfo %q", raw, userinfo))
		}
		u.TokenSelector = userinfo
	}

	return u, nil
}

// String renders the URL back to its canonical textual form.
func (u *URL) String() string {
	var sb strings.Builder
	sb.WriteString(Scheme)
	sb.WriteString("://")
	switch {
	case u.InlineToken != "":
		sb.WriteString(":")
		sb.WriteString(u.InlineToken)
		sb.WriteString("@")
	case u.TokenSelector != "":
		sb.WriteString(u.TokenSelector)
		sb.WriteString("@")
	}
	sb.WriteString(u.RepoRoot)
	return sb.String()
}
