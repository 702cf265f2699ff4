package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func seededFake() *Fake {
	f := NewFake()
	f.Add(Entry{
		DN: "uid=alice,ou=people,dc=example,dc=com",
		Attributes: map[string][]string{
			"uid":          {"alice"},
			"userPassword": {"s3cret"},
		},
	})
	f.Add(Entry{
		DN: "uid=bob,ou=people,dc=example,dc=com",
		Attributes: map[string][]string{
			"uid": {"bob"},
		},
	})
	return f
}

func TestFake_SubtreeSearch(t *testing.T) {
	f := seededFake()
	entries, err := f.Search(context.Background(), SearchRequest{
		BaseDN: "ou=people,dc=example,dc=com",
		Scope:  ScopeSubtree,
		Filter: "(uid=alice)",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Values("uid")[0] != "alice" {
		t.Fatalf("Search() = %v, want alice", entries)
	}
}

func TestFake_BaseSearchMissingObject(t *testing.T) {
	f := seededFake()
	_, err := f.Search(context.Background(), SearchRequest{
		BaseDN: "cn=missing,ou=groups,dc=example,dc=com",
		Scope:  ScopeBase,
		Filter: "(objectClass=*)",
	})
	if !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("Search() error = %v, want ErrNoSuchObject", err)
	}
}

func TestFake_CountsCalls(t *testing.T) {
	f := seededFake()
	ctx := context.Background()
	_, _ = f.Search(ctx, SearchRequest{BaseDN: "ou=people,dc=example,dc=com", Scope: ScopeSubtree, Filter: "(uid=bob)"})
	_, _ = f.Search(ctx, SearchRequest{BaseDN: "ou=people,dc=example,dc=com", Scope: ScopeSubtree, Filter: "(uid=alice)"})
	if got := f.SearchCount(); got != 2 {
		t.Errorf("SearchCount() = %d, want 2", got)
	}
	if got := len(f.Requests()); got != 2 {
		t.Errorf("len(Requests()) = %d, want 2", got)
	}
	f.ResetCounts()
	if got := f.SearchCount(); got != 0 {
		t.Errorf("SearchCount() after reset = %d, want 0", got)
	}
}

func TestFake_CheckCredentials(t *testing.T) {
	f := seededFake()
	ctx := context.Background()

	if err := f.CheckCredentials(ctx, "uid=alice,ou=people,dc=example,dc=com", "s3cret"); err != nil {
		t.Errorf("CheckCredentials() with right password error = %v", err)
	}
	err := f.CheckCredentials(ctx, "uid=alice,ou=people,dc=example,dc=com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckCredentials() with wrong password error = %v, want ErrInvalidCredentials", err)
	}
	err = f.CheckCredentials(ctx, "uid=ghost,ou=people,dc=example,dc=com", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckCredentials() for unknown DN error = %v, want ErrInvalidCredentials", err)
	}
	if got := f.BindCount(); got != 3 {
		t.Errorf("BindCount() = %d, want 3", got)
	}
}

func TestFake_FailFor(t *testing.T) {
	f := seededFake()
	boom := errors.New("directory on fire")
	f.FailFor("ou=people,dc=example,dc=com", boom)
	_, err := f.Search(context.Background(), SearchRequest{
		BaseDN: "ou=people,dc=example,dc=com",
		Scope:  ScopeSubtree,
		Filter: "(uid=alice)",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Search() error = %v, want injected error", err)
	}
}

func TestNewFakeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	content := `[
		{"dn": "uid=dev,ou=people,dc=example,dc=com",
		 "attributes": {"uid": ["dev"]},
		 "password": "devpass"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write users file: %v", err)
	}
	f, err := NewFakeFromFile(path)
	if err != nil {
		t.Fatalf("NewFakeFromFile() error = %v", err)
	}
	if err := f.CheckCredentials(context.Background(), "uid=dev,ou=people,dc=example,dc=com", "devpass"); err != nil {
		t.Errorf("CheckCredentials() error = %v", err)
	}
}

func TestNormalizeDN(t *testing.T) {
	a := NormalizeDN("UID=Alice, OU=People, DC=Example, DC=Com")
	b := NormalizeDN("uid=alice,ou=people,dc=example,dc=com")
	if a != b {
		t.Errorf("NormalizeDN() mismatch: %q vs %q", a, b)
	}
	// Non-DN strings fall back to trimmed lower-case.
	if got := NormalizeDN("  Not A DN  "); got != "not a dn" {
		t.Errorf("NormalizeDN() fallback = %q", got)
	}
}
