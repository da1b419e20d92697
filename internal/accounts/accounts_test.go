package accounts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "accounts.yaml"), "")
	if !errors.Is(err, ErrNoAccounts) {
		t.Errorf("missing file: got %v, want ErrNoAccounts", err)
	}
}

func TestLoadEmptyAccountList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("accounts: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, "")
	if !errors.Is(err, ErrNoAccounts) {
		t.Errorf("empty list: got %v, want ErrNoAccounts", err)
	}
}

func TestLoadNamesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	doc := `accounts:
  - access_token: tok-1
  - name: alice
    access_token: tok-2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	accts, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if accts[0].Name != "account-1" {
		t.Errorf("unnamed account got %q, want account-1", accts[0].Name)
	}
	if accts[1].Name != "alice" {
		t.Errorf("named account got %q", accts[1].Name)
	}
}

func TestSaveLoadRoundtripPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	in := []Account{
		{Name: "alice", Email: "alice@example.com", AccessToken: "tok-alice"},
		{Name: "bob", AccessToken: "tok-bob", Disabled: true},
	}
	if err := Save(path, in, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d accounts, want 2", len(out))
	}
	if out[0].AccessToken != "tok-alice" || out[1].AccessToken != "tok-bob" {
		t.Errorf("tokens changed across roundtrip: %+v", out)
	}
	if !out[1].Disabled {
		t.Error("disabled flag lost")
	}
}

func TestSaveEncryptsTokensAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	in := []Account{{Name: "alice", AccessToken: "tok-secret"}}
	if err := Save(path, in, "hunter2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "tok-secret") {
		t.Error("plaintext token leaked into the file")
	}
	if !strings.Contains(string(raw), encryptedPrefix) {
		t.Error("stored token missing encrypted prefix")
	}

	out, err := Load(path, "hunter2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out[0].AccessToken != "tok-secret" {
		t.Errorf("decrypted token = %q", out[0].AccessToken)
	}
}

func TestLoadEncryptedWithoutPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := Save(path, []Account{{Name: "alice", AccessToken: "tok"}}, "hunter2"); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, "")
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("got %v, want ErrPassphraseRequired", err)
	}
}

func TestLoadEncryptedWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := Save(path, []Account{{Name: "alice", AccessToken: "tok"}}, "hunter2"); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, "wrong"); err == nil {
		t.Error("wrong passphrase should fail to decrypt")
	}
}

func TestResolve(t *testing.T) {
	accts := []Account{
		{Name: "alice"},
		{Name: "bob", Disabled: true},
		{Name: "carol"},
	}

	t.Run("all enabled by default", func(t *testing.T) {
		out := Resolve(accts, nil)
		if len(out) != 2 || out[0].Name != "alice" || out[1].Name != "carol" {
			t.Errorf("got %+v", out)
		}
	})

	t.Run("selection is case-insensitive", func(t *testing.T) {
		out := Resolve(accts, []string{"ALICE"})
		if len(out) != 1 || out[0].Name != "alice" {
			t.Errorf("got %+v", out)
		}
	})

	t.Run("disabled never returned even when selected", func(t *testing.T) {
		if out := Resolve(accts, []string{"bob"}); len(out) != 0 {
			t.Errorf("got %+v", out)
		}
	})

	t.Run("unknown names ignored", func(t *testing.T) {
		if out := Resolve(accts, []string{"nobody"}); len(out) != 0 {
			t.Errorf("got %+v", out)
		}
	})
}
