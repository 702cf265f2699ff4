package access

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ruslano69/xzaccess/internal/directory"
)

const (
	userBase  = "ou=people,dc=example,dc=com"
	viewersDN = "cn=viewers,ou=groups,dc=example,dc=com"
	editorsDN = "cn=editors,ou=groups,dc=example,dc=com"
	dynGrpDN  = "cn=dyngrp,ou=groups,dc=example,dc=com"
	adminRole = "cn=admins,ou=roles,dc=example,dc=com"
	missingDN = "cn=ghost,ou=groups,dc=example,dc=com"
)

// seededDirectory builds a directory with one role user, one static-group
// member, one dynamic-group member, and one user with no memberships.
func seededDirectory() *directory.Fake {
	f := directory.NewFake()
	f.Add(directory.Entry{
		DN: "uid=alice," + userBase,
		Attributes: map[string][]string{
			"uid":          {"alice"},
			"userPassword": {"alicepw"},
		},
	})
	f.Add(directory.Entry{
		DN: "uid=bob," + userBase,
		Attributes: map[string][]string{
			"uid":          {"bob"},
			"userPassword": {"bobpw"},
		},
	})
	f.Add(directory.Entry{
		DN: "uid=carol," + userBase,
		Attributes: map[string][]string{
			"uid":          {"carol"},
			"department":   {"eng"},
			"userPassword": {"carolpw"},
		},
	})
	f.Add(directory.Entry{
		DN: "uid=dave," + userBase,
		Attributes: map[string][]string{
			"uid":        {"dave"},
			"department": {"sales"},
		},
	})
	f.Add(directory.Entry{
		DN: "uid=root," + userBase,
		Attributes: map[string][]string{
			"uid":          {"root"},
			"nsRole":       {adminRole},
			"userPassword": {"rootpw"},
		},
	})
	f.Add(directory.Entry{
		DN: viewersDN,
		Attributes: map[string][]string{
			"objectclass": {"groupOfNames"},
			"member":      {"uid=alice," + userBase},
		},
	})
	f.Add(directory.Entry{
		DN: editorsDN,
		Attributes: map[string][]string{
			"objectclass":  {"groupOfUniqueNames"},
			"uniqueMember": {"uid=alice," + userBase},
		},
	})
	f.Add(directory.Entry{
		DN: dynGrpDN,
		Attributes: map[string][]string{
			"objectclass": {"groupOfURLs"},
			"memberURL":   {"ldap:///" + userBase + "??sub?(department=eng)"},
		},
	})
	return f
}

// newTestManager returns a started manager backed by the fake directory.
func newTestManager(t *testing.T, fake *directory.Fake) *Manager {
	t.Helper()
	m := NewManager(Config{
		UserBaseDN:     userBase,
		LoginAttribute: "uid",
	}, Options{
		Dial:   func(directory.Config) (directory.Client, error) { return fake, nil },
		Logger: zerolog.Nop(),
	})
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestManager_RoleMatchIssuesNoGroupSearches(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	m.Register(context.Background(), "manage_all", adminRole, false)

	fake.ResetCounts()
	names, err := m.AccessibleResources(context.Background(), "root")
	if err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	if len(names) != 1 || names[0] != "manage_all" {
		t.Fatalf("AccessibleResources() = %v, want [manage_all]", names)
	}
	// Only the user lookup: the role pass settles the resource without any
	// static or dynamic group search.
	if got := fake.SearchCount(); got != 1 {
		t.Errorf("SearchCount() = %d, want 1 (user search only)", got)
	}
}

func TestManager_SecondCallHitsCache(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	m.Register(context.Background(), "view_job", viewersDN, false)

	if _, err := m.AccessibleResources(context.Background(), "alice"); err != nil {
		t.Fatalf("first AccessibleResources() error = %v", err)
	}
	fake.ResetCounts()
	if _, err := m.AccessibleResources(context.Background(), "alice"); err != nil {
		t.Fatalf("second AccessibleResources() error = %v", err)
	}
	if got := fake.SearchCount(); got != 0 {
		t.Errorf("SearchCount() on cache hit = %d, want 0", got)
	}
}

func TestManager_RegisterWithFlushForcesReresolve(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	if _, err := m.AccessibleResources(ctx, "alice"); err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}

	m.Register(ctx, "edit_job", editorsDN, true)
	fake.ResetCounts()
	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil {
		t.Fatalf("AccessibleResources() after flush error = %v", err)
	}
	if fake.SearchCount() == 0 {
		t.Error("expected directory searches after register with flush")
	}
	if len(names) != 2 {
		t.Errorf("AccessibleResources() = %v, want both resources", names)
	}
}

func TestManager_StaticGroupScenario(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil {
		t.Fatalf("AccessibleResources(alice) error = %v", err)
	}
	if len(names) != 1 || names[0] != "view_job" {
		t.Errorf("AccessibleResources(alice) = %v, want [view_job]", names)
	}

	names, err = m.AccessibleResources(ctx, "bob")
	if err != nil {
		t.Fatalf("AccessibleResources(bob) error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("AccessibleResources(bob) = %v, want empty", names)
	}

	// bob's empty result is cached, not re-resolved.
	fake.ResetCounts()
	if _, err := m.AccessibleResources(ctx, "bob"); err != nil {
		t.Fatalf("AccessibleResources(bob) again error = %v", err)
	}
	if got := fake.SearchCount(); got != 0 {
		t.Errorf("SearchCount() = %d, want 0 (empty set must be cached)", got)
	}
}

func TestManager_DynamicGroupScenario(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "run_reports", dynGrpDN, false)

	names, err := m.AccessibleResources(ctx, "carol")
	if err != nil {
		t.Fatalf("AccessibleResources(carol) error = %v", err)
	}
	if len(names) != 1 || names[0] != "run_reports" {
		t.Errorf("AccessibleResources(carol) = %v, want [run_reports]", names)
	}

	names, err = m.AccessibleResources(ctx, "dave")
	if err != nil {
		t.Fatalf("AccessibleResources(dave) error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("AccessibleResources(dave) = %v, want empty (wrong department)", names)
	}
}

func TestManager_MalformedMemberURLSkipsResourceOnly(t *testing.T) {
	fake := seededDirectory()
	fake.Add(directory.Entry{
		DN: "cn=badgrp,ou=groups,dc=example,dc=com",
		Attributes: map[string][]string{
			"objectclass": {"groupOfURLs"},
			"memberURL":   {"ldap:///" + userBase + "??bogus?(department=eng)"},
		},
	})
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "broken", "cn=badgrp,ou=groups,dc=example,dc=com", false)
	m.Register(ctx, "run_reports", dynGrpDN, false)

	names, err := m.AccessibleResources(ctx, "carol")
	if err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	if len(names) != 1 || names[0] != "run_reports" {
		t.Errorf("AccessibleResources() = %v, want [run_reports] only", names)
	}
}

func TestManager_MissingAuthorizationEntrySkipped(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "ghost_op", missingDN, false)
	m.Register(ctx, "view_job", viewersDN, false)

	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil {
		t.Fatalf("AccessibleResources() error = %v, want success despite missing DN", err)
	}
	if len(names) != 1 || names[0] != "view_job" {
		t.Errorf("AccessibleResources() = %v, want [view_job]", names)
	}
}

func TestManager_QueryErrorPropagatesAndIsNotCached(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	boom := errors.New("connection reset")
	fake.FailFor(viewersDN, boom)

	_, err := m.AccessibleResources(ctx, "alice")
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("AccessibleResources() error = %v, want QueryError", err)
	}
	// MayAccess propagates query errors so callers can tell "denied" from
	// "directory unavailable".
	if _, err := m.MayAccess(ctx, "alice", "view_job"); err == nil {
		t.Error("MayAccess() expected error while directory failing")
	}

	// The failure is not cached: once the directory recovers, resolution
	// succeeds again.
	fake.FailFor(viewersDN, nil)
	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil {
		t.Fatalf("AccessibleResources() after recovery error = %v", err)
	}
	if len(names) != 1 || names[0] != "view_job" {
		t.Errorf("AccessibleResources() after recovery = %v, want [view_job]", names)
	}
}

func TestManager_UserNotFound(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	_, err := m.AccessibleResources(ctx, "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("AccessibleResources(nobody) error = %v, want ErrUserNotFound", err)
	}

	// MayAccess converts user-not-found to a plain deny.
	allowed, err := m.MayAccess(ctx, "nobody", "view_job")
	if err != nil {
		t.Fatalf("MayAccess(nobody) error = %v, want nil", err)
	}
	if allowed {
		t.Error("MayAccess(nobody) = true, want false")
	}
}

func TestManager_StopFailsClosed(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	allowed, err := m.MayAccess(ctx, "alice", "view_job")
	if err != nil || !allowed {
		t.Fatalf("MayAccess(alice) before stop = %v, %v", allowed, err)
	}

	m.Stop()
	if !m.IsStopped() {
		t.Fatal("IsStopped() = false after Stop()")
	}

	fake.ResetCounts()
	allowed, err = m.MayAccess(ctx, "alice", "view_job")
	if err != nil {
		t.Fatalf("MayAccess() while stopped error = %v, want nil", err)
	}
	if allowed {
		t.Error("MayAccess() while stopped = true, want false (fail closed)")
	}
	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil || len(names) != 0 {
		t.Errorf("AccessibleResources() while stopped = %v, %v, want empty deny", names, err)
	}
	// Fail-closed happens before cache and directory.
	if got := fake.SearchCount(); got != 0 {
		t.Errorf("SearchCount() while stopped = %d, want 0", got)
	}
}

func TestManager_FullAccessGrantsEverything(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, FullAccessResource, viewersDN, false)

	// alice holds full access through the viewers group; any resource name
	// is granted, even unregistered ones.
	for _, resource := range []string{"view_job", "delete_job", "whatever"} {
		allowed, err := m.MayAccess(ctx, "alice", resource)
		if err != nil {
			t.Fatalf("MayAccess(alice, %s) error = %v", resource, err)
		}
		if !allowed {
			t.Errorf("MayAccess(alice, %s) = false, want true via full access", resource)
		}
	}

	// bob has no full access and no direct grant.
	allowed, err := m.MayAccess(ctx, "bob", "view_job")
	if err != nil {
		t.Fatalf("MayAccess(bob) error = %v", err)
	}
	if allowed {
		t.Error("MayAccess(bob) = true, want false")
	}
}

func TestManager_StartErrors(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	failing := NewManager(Config{UserBaseDN: userBase}, Options{
		Dial: func(directory.Config) (directory.Client, error) {
			return nil, errors.New("bind refused")
		},
		Logger: zerolog.Nop(),
	})
	err := failing.Start()
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Start() error = %v, want ConnectError", err)
	}
	if !failing.IsStopped() {
		t.Error("manager must stay stopped after a failed Start()")
	}
}

func TestManager_DeregisterFlushesOnlyWhenRemoved(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()
	m.Register(ctx, "view_job", viewersDN, false)

	if _, err := m.AccessibleResources(ctx, "alice"); err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}

	// Deregistering an unknown name must not disturb the cache.
	m.Deregister(ctx, "unknown", true)
	fake.ResetCounts()
	if _, err := m.AccessibleResources(ctx, "alice"); err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	if got := fake.SearchCount(); got != 0 {
		t.Errorf("SearchCount() = %d, want 0 (cache intact)", got)
	}

	// Removing the real resource with flush forces re-resolution.
	m.Deregister(ctx, "view_job", true)
	fake.ResetCounts()
	names, err := m.AccessibleResources(ctx, "alice")
	if err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	if fake.SearchCount() == 0 {
		t.Error("expected re-resolution after deregister with flush")
	}
	if len(names) != 0 {
		t.Errorf("AccessibleResources() = %v, want empty after deregister", names)
	}
}

func TestManager_MatchedResourceSkipsLaterPasses(t *testing.T) {
	fake := seededDirectory()
	m := newTestManager(t, fake)
	ctx := context.Background()

	// root matches by role; no group searches may be issued for that
	// resource, while view_job still needs its static-group search.
	m.Register(ctx, "manage_all", adminRole, false)
	m.Register(ctx, "view_job", viewersDN, false)

	fake.ResetCounts()
	if _, err := m.AccessibleResources(ctx, "root"); err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	for _, req := range fake.Requests() {
		if directory.NormalizeDN(req.BaseDN) == directory.NormalizeDN(adminRole) {
			t.Errorf("unexpected group search at role-matched DN %q", req.BaseDN)
		}
	}
}
