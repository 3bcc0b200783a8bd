// Command git-dropbox-manage is the operator-facing companion to
// git-remote-dropbox: it manages saved credentials and lets an operator
// repoint a bare remote's HEAD without a working tree.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore/miniostore"
	"github.com/anishathalye/git-remote-dropbox/internal/credentials"
	"github.com/anishathalye/git-remote-dropbox/internal/dropboxurl"
	"github.com/anishathalye/git-remote-dropbox/internal/errs"
	"github.com/anishathalye/git-remote-dropbox/internal/gitproc"
	"github.com/anishathalye/git-remote-dropbox/internal/manage"
	"github.com/anishathalye/git-remote-dropbox/internal/refstore"
)

var commands = map[string]func([]string) error{
	"login":       cmdLogin,
	"logout":      cmdLogout,
	"show-logins": cmdShowLogins,
	"set-head":    cmdSetHead,
	"version":     cmdVersion,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}
	if err := cmd(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "git-dropbox-manage: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: git-dropbox-manage <login|logout|show-logins|set-head|version> [args...]")
}

func newCredStore() (*credentials.Store, error) {
	path, err := credentials.Locate()
	if err != nil {
		return nil, err
	}
	return credentials.Load(path)
}

func cmdLogin(args []string) error {
	if len(args) < 1 {
		return errs.New(errs.Config, "usage: login <token> [account]")
	}
	token := args[0]
	account := credentials.DefaultAccount
	if len(args) > 1 {
		account = args[1]
	}
	store, err := newCredStore()
	if err != nil {
		return err
	}
	tool := manage.New(nil, store)
	if err := tool.Login(account, token); err != nil {
		return err
	}
	fmt.Printf("saved credentials for %q\n", account)
	return nil
}

func cmdLogout(args []string) error {
	account := credentials.DefaultAccount
	if len(args) > 0 {
		account = args[0]
	}
	store, err := newCredStore()
	if err != nil {
		return err
	}
	tool := manage.New(nil, store)
	removed, err := tool.Logout(account)
	if err != nil {
		return err
	}
	if removed {
		fmt.Printf("removed credentials for %q\n", account)
	} else {
		fmt.Printf("no saved credentials for %q\n", account)
	}
	return nil
}

func cmdShowLogins(args []string) error {
	store, err := newCredStore()
	if err != nil {
		return err
	}
	tool := manage.New(nil, store)
	accounts := tool.ShowLogins()
	if len(accounts) == 0 {
		fmt.Println("no saved accounts")
		return nil
	}
	for _, a := range accounts {
		fmt.Println(a)
	}
	return nil
}

func cmdSetHead(args []string) error {
	if len(args) != 2 {
		return errs.New(errs.Config, "usage: set-head <dropbox-url> <branch>")
	}
	u, err := dropboxurl.Parse(args[0])
	if err != nil {
		return err
	}
	branch := args[1]

	credStore, err := newCredStore()
	if err != nil {
		return err
	}
	token, err := resolveToken(u, credStore)
	if err != nil {
		return err
	}

	store, err := newBlobStore(u, token)
	if err != nil {
		return err
	}
	git := gitproc.New(os.Getenv("GIT_DIR"))
	refs := refstore.New(store, git)
	tool := manage.New(refs, credStore)

	if err := tool.SetHead(context.Background(), branch); err != nil {
		return err
	}
	fmt.Printf("HEAD -> refs/heads/%s\n", branch)
	return nil
}

func cmdVersion([]string) error {
	fmt.Println(manage.Version)
	return nil
}

func resolveToken(u *dropboxurl.URL, store *credentials.Store) (string, error) {
	if u.InlineToken != "" {
		return u.InlineToken, nil
	}
	return store.Token(u.TokenSelector)
}

func newBlobStore(u *dropboxurl.URL, token string) (*miniostore.Store, error) {
	endpoint := os.Getenv("GIT_REMOTE_DROPBOX_S3_ENDPOINT")
	bucket := os.Getenv("GIT_REMOTE_DROPBOX_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		return nil, errs.New(errs.Config,
			"GIT_REMOTE_DROPBOX_S3_ENDPOINT and GIT_REMOTE_DROPBOX_S3_BUCKET must be set")
	}
	accessKey, secretKey, ok := strings.Cut(token, ":")
	if !ok {
		return nil, errs.New(errs.Config, "credential token must be \"<access-key>:<secret-key>\"")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(accessKey, secretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "construct object store client")
	}
	return miniostore.New(client, bucket, u.RepoRoot), nil
}
