package provisioning

import (
	"reflect"
	"testing"
)

// ── Scope policy ──────────────────────────────────────────────

func TestRequiredScopes_Empty(t *testing.T) {
	t.Parallel()
	if got := RequiredScopes(nil); len(got) != 0 {
		t.Errorf("RequiredScopes(nil) = %v, want empty", got)
	}
}

func TestRequiredScopes_UserOpsNeedUsersWrite(t *testing.T) {
	t.Parallel()
	ops := []OperationKind{OpCreateUser, OpUpdateUser, OpDeactivateUser, OpDeleteUser}
	want := []string{ScopeUsersWrite}
	if got := RequiredScopes(ops); !reflect.DeepEqual(got, want) {
		t.Errorf("RequiredScopes(user ops) = %v, want %v", got, want)
	}
}

func TestRequiredScopes_MembershipNeedsGroupsWrite(t *testing.T) {
	t.Parallel()
	ops := []OperationKind{OpAddGroupMember, OpRemoveGroupMember}
	want := []string{ScopeGroupsWrite}
	if got := RequiredScopes(ops); !reflect.DeepEqual(got, want) {
		t.Errorf("RequiredScopes(membership) = %v, want %v", got, want)
	}
}

func TestRequiredScopes_Mixed(t *testing.T) {
	t.Parallel()
	ops := []OperationKind{OpCreateUser, OpCreateGroup}
	want := []string{ScopeGroupsWrite, ScopeUsersWrite}
	if got := RequiredScopes(ops); !reflect.DeepEqual(got, want) {
		t.Errorf("RequiredScopes(mixed) = %v, want %v", got, want)
	}
}

func TestRequiredScopes_DistributesOverUnion(t *testing.T) {
	t.Parallel()
	a := []OperationKind{OpCreateUser, OpDeleteUser}
	b := []OperationKind{OpUpdateGroup, OpAddGroupMember}

	union := RequiredScopes(append(append([]OperationKind{}, a...), b...))

	set := map[string]struct{}{}
	for _, s := range RequiredScopes(a) {
		set[s] = struct{}{}
	}
	for _, s := range RequiredScopes(b) {
		set[s] = struct{}{}
	}
	if len(union) != len(set) {
		t.Fatalf("union law violated: %v vs %v", union, set)
	}
	for _, s := range union {
		if _, ok := set[s]; !ok {
			t.Errorf("scope %s missing from pieced union", s)
		}
	}
}

func TestMissingScopes(t *testing.T) {
	t.Parallel()
	granted := []string{ScopeUsersWrite}
	required := []string{ScopeUsersWrite, ScopeGroupsWrite}

	got := MissingScopes(granted, required)
	if len(got) != 1 || got[0] != ScopeGroupsWrite {
		t.Errorf("MissingScopes = %v, want [%s]", got, ScopeGroupsWrite)
	}

	if got := MissingScopes(required, required); len(got) != 0 {
		t.Errorf("MissingScopes(full grant) = %v, want empty", got)
	}
}

func TestScopeForOperation_CoversAllNine(t *testing.T) {
	t.Parallel()
	for _, op := range AllOperations {
		if _, ok := ScopeForOperation(op); !ok {
			t.Errorf("no scope mapped for %s", op)
		}
	}
	if _, ok := ScopeForOperation(OperationKind("NOPE")); ok {
		t.Error("unknown operation should have no scope")
	}
}
