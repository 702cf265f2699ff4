package access

import "testing"

func TestRegistry_OrderPreserved(t *testing.T) {
	r := NewRegistry()
	r.Register("view_job", "cn=viewers,ou=groups,dc=x")
	r.Register("schedule_job", "cn=schedulers,ou=groups,dc=x")
	r.Register("full_access", "cn=admins,ou=groups,dc=x")

	snap := r.Snapshot()
	want := []string{"view_job", "schedule_job", "full_access"}
	if len(snap) != len(want) {
		t.Fatalf("len(Snapshot()) = %d, want %d", len(snap), len(want))
	}
	for i, name := range want {
		if snap[i].Name != name {
			t.Errorf("Snapshot()[%d].Name = %q, want %q", i, snap[i].Name, name)
		}
	}
}

func TestRegistry_LastRegisterWins(t *testing.T) {
	r := NewRegistry()
	r.Register("view_job", "cn=viewers,ou=groups,dc=x")
	r.Register("schedule_job", "cn=schedulers,ou=groups,dc=x")
	r.Register("view_job", "cn=Auditors, ou=Groups, dc=X")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
	// Replacement keeps the original position and normalizes the DN.
	if snap[0].Name != "view_job" {
		t.Errorf("Snapshot()[0].Name = %q, want view_job", snap[0].Name)
	}
	if snap[0].DN != "cn=auditors,ou=groups,dc=x" {
		t.Errorf("Snapshot()[0].DN = %q, want normalized form", snap[0].DN)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry()
	r.Register("view_job", "cn=viewers,ou=groups,dc=x")

	if !r.Deregister("view_job") {
		t.Error("Deregister() of present resource = false, want true")
	}
	if r.Deregister("view_job") {
		t.Error("Deregister() of absent resource = true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("view_job", "cn=viewers,ou=groups,dc=x")
	snap := r.Snapshot()
	snap[0].Name = "mutated"
	if r.Snapshot()[0].Name != "view_job" {
		t.Error("mutating a snapshot must not affect the registry")
	}
}
