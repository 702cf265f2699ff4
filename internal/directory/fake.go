package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Fake is an in-memory Client used by tests and by --dev mode. It understands
// the filter grammar the access manager actually issues (equality, presence,
// and, or, not) and counts every call so tests can assert which directory
// operations a code path performed.
type Fake struct {
	mu      sync.Mutex
	entries []Entry
	failFor map[string]error

	searchCalls int
	bindCalls   int
	requests    []SearchRequest
}

// NewFake returns an empty fake directory.
func NewFake() *Fake {
	return &Fake{failFor: make(map[string]error)}
}

// fakeEntry is one record in the --dev users file.
type fakeEntry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
	Password   string              `json:"password,omitempty"`
}

// NewFakeFromFile loads a JSON entry list for --dev mode. Passwords become
// userPassword attribute values so CheckCredentials works against them.
func NewFakeFromFile(path string) (*Fake, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fake directory: read %q: %w", path, err)
	}
	var raw []fakeEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fake directory: parse %q: %w", path, err)
	}
	f := NewFake()
	for _, e := range raw {
		attrs := e.Attributes
		if attrs == nil {
			attrs = make(map[string][]string)
		}
		if e.Password != "" {
			attrs["userPassword"] = []string{e.Password}
		}
		f.Add(Entry{DN: e.DN, Attributes: attrs})
	}
	return f, nil
}

// Add inserts or replaces the entry at its DN.
func (f *Fake) Add(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dn := NormalizeDN(e.DN)
	for i := range f.entries {
		if NormalizeDN(f.entries[i].DN) == dn {
			f.entries[i] = e
			return
		}
	}
	f.entries = append(f.entries, e)
}

// Remove deletes the entry at dn if present.
func (f *Fake) Remove(dn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	norm := NormalizeDN(dn)
	for i := range f.entries {
		if NormalizeDN(f.entries[i].DN) == norm {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// FailFor makes every search based at dn fail with err. A nil err clears
// the injected failure.
func (f *Fake) FailFor(dn string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failFor, NormalizeDN(dn))
		return
	}
	f.failFor[NormalizeDN(dn)] = err
}

// SearchCount reports how many searches have been issued.
func (f *Fake) SearchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

// BindCount reports how many credential checks have been issued.
func (f *Fake) BindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindCalls
}

// Requests returns a copy of every search request seen so far.
func (f *Fake) Requests() []SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SearchRequest(nil), f.requests...)
}

// ResetCounts zeroes the call counters without touching the data.
func (f *Fake) ResetCounts() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = 0
	f.bindCalls = 0
	f.requests = nil
}

// Search implements Client.
func (f *Fake) Search(ctx context.Context, req SearchRequest) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searchCalls++
	f.requests = append(f.requests, req)

	base := NormalizeDN(req.BaseDN)
	if err, ok := f.failFor[base]; ok {
		return nil, err
	}

	match, err := parseFilter(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("fake directory: %w", err)
	}

	var inScope []Entry
	for _, e := range f.entries {
		dn := NormalizeDN(e.DN)
		switch req.Scope {
		case ScopeBase:
			if dn == base {
				inScope = append(inScope, e)
			}
		case ScopeSubtree:
			if dn == base || strings.HasSuffix(dn, ","+base) {
				inScope = append(inScope, e)
			}
		}
	}
	if len(inScope) == 0 && !f.baseExistsLocked(base) {
		return nil, fmt.Errorf("search %q: %w", req.BaseDN, ErrNoSuchObject)
	}

	var out []Entry
	for _, e := range inScope {
		if match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) baseExistsLocked(normBase string) bool {
	for _, e := range f.entries {
		dn := NormalizeDN(e.DN)
		if dn == normBase || strings.HasSuffix(dn, ","+normBase) {
			return true
		}
	}
	return false
}

// CheckCredentials implements Client. An unknown DN and a wrong password are
// indistinguishable, as with a real directory bind.
func (f *Fake) CheckCredentials(ctx context.Context, bindDN, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bindCalls++
	dn := NormalizeDN(bindDN)
	for _, e := range f.entries {
		if NormalizeDN(e.DN) != dn {
			continue
		}
		for _, pw := range e.Values("userPassword") {
			if pw == password && password != "" {
				return nil
			}
		}
		break
	}
	return fmt.Errorf("bind %q: %w", bindDN, ErrInvalidCredentials)
}

// Close implements Client.
func (f *Fake) Close() error { return nil }
