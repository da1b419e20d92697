// Package accounts manages the set of tracked Antigravity accounts and their
// credentials. Accounts live in a YAML file; access tokens may be encrypted
// at rest with a passphrase. Account credentials are always handed to
// callers as explicit values, never installed into shared session state.
package accounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Errors reported by account loading.
var (
	ErrNoAccounts         = errors.New("accounts: no accounts configured")
	ErrPassphraseRequired = errors.New("accounts: file contains encrypted tokens but no passphrase was provided")
)

// Account is one tracked Antigravity account.
type Account struct {
	Name        string `yaml:"name"`
	Email       string `yaml:"email,omitempty"`
	AccessToken string `yaml:"access_token"`
	Disabled    bool   `yaml:"disabled,omitempty"`
}

// accountsFile is the YAML document shape.
type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// Load reads the accounts file and decrypts any encrypted tokens with the
// passphrase. A missing file yields ErrNoAccounts.
func Load(path, passphrase string) ([]Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoAccounts
		}
		return nil, fmt.Errorf("accounts: read %s: %w", path, err)
	}

	var file accountsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("accounts: parse %s: %w", path, err)
	}
	if len(file.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	out := make([]Account, 0, len(file.Accounts))
	for i, acct := range file.Accounts {
		acct.Name = strings.TrimSpace(acct.Name)
		if acct.Name == "" {
			acct.Name = fmt.Sprintf("account-%d", i+1)
		}
		if IsEncryptedValue(acct.AccessToken) {
			if passphrase == "" {
				return nil, ErrPassphraseRequired
			}
			token, err := decryptToken(acct.AccessToken, passphrase)
			if err != nil {
				return nil, fmt.Errorf("accounts: %s: %w", acct.Name, err)
			}
			acct.AccessToken = token
		}
		out = append(out, acct)
	}
	return out, nil
}

// Save writes the accounts file with 0600 permissions. When a passphrase is
// given, tokens are encrypted at rest.
func Save(path string, accts []Account, passphrase string) error {
	file := accountsFile{Accounts: make([]Account, len(accts))}
	copy(file.Accounts, accts)

	if passphrase != "" {
		for i := range file.Accounts {
			token := file.Accounts[i].AccessToken
			if token == "" || IsEncryptedValue(token) {
				continue
			}
			sealed, err := encryptToken(token, passphrase)
			if err != nil {
				return fmt.Errorf("accounts: %s: %w", file.Accounts[i].Name, err)
			}
			file.Accounts[i].AccessToken = sealed
		}
	}

	raw, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("accounts: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("accounts: create dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("accounts: write %s: %w", path, err)
	}
	return nil
}

// Resolve returns the accounts a pass should act on: the named ones when
// selected is non-empty (unknown names are ignored), otherwise every enabled
// account. Disabled accounts are never returned.
func Resolve(accts []Account, selected []string) []Account {
	wanted := make(map[string]bool, len(selected))
	for _, name := range selected {
		name = strings.TrimSpace(name)
		if name != "" {
			wanted[strings.ToLower(name)] = true
		}
	}

	var out []Account
	for _, acct := range accts {
		if acct.Disabled {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToLower(acct.Name)] {
			continue
		}
		out = append(out, acct)
	}
	return out
}
