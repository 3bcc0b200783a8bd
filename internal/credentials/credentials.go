// Package credentials loads and saves the bearer tokens the helper uses
// to authenticate to the blob store: a Resolve/Store/Delete-shaped
// contract over a named reference, narrowed to a single flat JSON file
// of account-name to token, located via github.com/adrg/xdg.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/anishathalye/git-remote-dropbox/internal/errs"
)

// DefaultAccount is the key looked up when a dropbox:// URL carries no
// explicit token selector.
const DefaultAccount = "default"

// fileName is the credentials file's leaf name, shared by every
// candidate search location.
const fileName = "git-remote-dropbox.json"

// Store is a JSON object mapping account name to bearer token, persisted
// at one of a handful of conventional locations:
//
//  1. $XDG_CONFIG_HOME/git/git-remote-dropbox.json
//  2. ~/.config/git/git-remote-dropbox.json
//  3. ~/.git-remote-dropbox.json (legacy location; when it is the one
//     found, Save writes back to it as well)
type Store struct {
	path     string
	accounts map[string]string
}

// Locate returns the path Store.Load/Save should use: the first of the
// candidate locations that already exists, or the XDG-preferred location
// if none do yet (so a first `login` creates it there).
func Locate() (string, error) {
	for _, candidate := range candidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	preferred, err := xdg.ConfigFile(filepath.Join("git", fileName))
	if err != nil {
		return "", errs.Wrap(errs.Config, err, "resolve XDG config path")
	}
	return preferred, nil
}

func candidates() []string {
	var out []string
	if p, err := xdg.SearchConfigFile(filepath.Join("git", fileName)); err == nil {
		out = append(out, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "git", fileName))
		out = append(out, filepath.Join(home, "."+fileName))
	}
	return out
}

// Load reads the credentials file at path. A missing file is not an
// error: it is treated as an empty Store, so a fresh checkout with no
// saved logins still gets a clear "no token for account" error later
// rather than a confusing file-not-found.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{path: path, accounts: map[string]string{}}, nil
		}
		return nil, errs.Wrap(errs.Config, err, fmt.Sprintf("read credentials file %s", path))
	}
	var accounts map[string]string
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, errs.Wrap(errs.Config, err, fmt.Sprintf("parse credentials file %s", path))
	}
	return &Store{path: path, accounts: accounts}, nil
}

// Token returns the bearer token for account, or DefaultAccount's token
// if account is empty.
func (s *Store) Token(account string) (string, error) {
	if account == "" {
		account = DefaultAccount
	}
	token, ok := s.accounts[account]
	if !ok {
		return "", errs.New(errs.Config, fmt.Sprintf("no credentials saved for account %q (run `login`)", account))
	}
	return token, nil
}

// Set records a token for account, creating the Store's account map if
// necessary. Empty account names are normalized to DefaultAccount.
func (s *Store) Set(account, token string) {
	if account == "" {
		account = DefaultAccount
	}
	if s.accounts == nil {
		s.accounts = map[string]string{}
	}
	s.accounts[account] = token
}

// Remove deletes the saved token for account, reporting whether one was
// present.
func (s *Store) Remove(account string) bool {
	if account == "" {
		account = DefaultAccount
	}
	if _, ok := s.accounts[account]; !ok {
		return false
	}
	delete(s.accounts, account)
	return true
}

// Accounts returns the names of every account with a saved token.
func (s *Store) Accounts() []string {
	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	return names
}

// Save writes the Store back to its path with 0600 permissions, creating parent directories as needed.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errs.Wrap(errs.Config, err, "create credentials directory")
	}
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Config, err, "encode credentials file")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errs.Wrap(errs.Config, err, fmt.Sprintf("write credentials file %s", s.path))
	}
	return nil
}
