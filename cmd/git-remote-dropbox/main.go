// Command git-remote-dropbox is the Git remote helper invoked whenever
// Git operates on a dropbox:// remote URL. Git discovers it on PATH and
// invokes it as `git-remote-dropbox <remote-name> <url>`, then drives it
// over stdin/stdout using the remote-helper protocol.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore/miniostore"
	"github.com/anishathalye/git-remote-dropbox/internal/credentials"
	"github.com/anishathalye/git-remote-dropbox/internal/dropboxurl"
	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/gitproc"
	"github.com/anishathalye/git-remote-dropbox/internal/helper"
	"github.com/anishathalye/git-remote-dropbox/internal/logging"
	"github.com/anishathalye/git-remote-dropbox/internal/refstore"
	"github.com/anishathalye/git-remote-dropbox/internal/transfer"
)

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		fmt.Println(version)
		return
	}
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-dropbox: %v\n", err)
		os.Exit(1)
	}
}

var version = "dev"

func run(argv []string) error {
	if len(argv) != 3 {
		return errs.New(errs.Protocol, fmt.Sprintf("usage: %s <remote-name> <url>", argv[0]))
	}
	rawURL := argv[2]

	u, err := dropboxurl.Parse(rawURL)
	if err != nil {
		return err
	}

	log := logging.New()

	store, err := newStore(u, log)
	if err != nil {
		return err
	}

	git := gitproc.New(os.Getenv("GIT_DIR"))
	refs := refstore.New(store, git)
	xfer := transfer.New(store, git)
	h := helper.New(git, refs, xfer, log)

	ctx := context.Background()
	return h.Run(ctx, os.Stdin, os.Stdout)
}

// newStore resolves credentials and constructs the blob store binding
// for u. The token format for the demonstration MinIO binding is
// "<access-key>:<secret-key>"; a production Dropbox binding would carry
// a single bearer token instead, since Dropbox's API has no analogous
// access/secret pair.
func newStore(u *dropboxurl.URL, log *logging.Logger) (*miniostore.Store, error) {
	endpoint := os.Getenv("GIT_REMOTE_DROPBOX_S3_ENDPOINT")
	bucket := os.Getenv("GIT_REMOTE_DROPBOX_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		return nil, errs.New(errs.Config,
			"GIT_REMOTE_DROPBOX_S3_ENDPOINT and GIT_REMOTE_DROPBOX_S3_BUCKET must be set")
	}

	token, err := resolveToken(u)
	if err != nil {
		return nil, err
	}
	accessKey, secretKey, ok := strings.Cut(token, ":")
	if !ok {
		return nil, errs.New(errs.Config, "credential token must be \"<access-key>:<secret-key>\"")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     miniocreds.NewStaticV4(accessKey, secretKey, ""),
		Secure:    true,
		Transport: proxyAwareTransport(),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "construct object store client")
	}

	log.Debugf("bound to bucket %s, repo root %s", bucket, u.RepoRoot)
	return miniostore.New(client, bucket, u.RepoRoot), nil
}

func resolveToken(u *dropboxurl.URL) (string, error) {
	if u.InlineToken != "" {
		return u.InlineToken, nil
	}
	path, err := credentials.Locate()
	if err != nil {
		return "", err
	}
	store, err := credentials.Load(path)
	if err != nil {
		return "", err
	}
	return store.Token(u.TokenSelector)
}

// proxyAwareTransport builds an http.RoundTripper that honors
// HTTP_PROXY/HTTPS_PROXY, matching the convention every Go program using
// net/http's default transport already follows.
func proxyAwareTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyFromEnvironment
	return t
}
