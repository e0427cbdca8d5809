package provisioning

import "sort"

// Scope names granted to client applications for SCIM traffic.
const (
	ScopeUsersRead   = "scim:users:read"
	ScopeUsersWrite  = "scim:users:write"
	ScopeGroupsRead  = "scim:groups:read"
	ScopeGroupsWrite = "scim:groups:write"
)

// AllSCIMScopes lists every scope the provisioner manages for a tenant.
var AllSCIMScopes = []string{
	ScopeUsersRead,
	ScopeUsersWrite,
	ScopeGroupsRead,
	ScopeGroupsWrite,
}

// operationScopes maps each operation kind to the scope it requires.
// Every user mutation needs users:write; group mutations and membership
// PATCHes need groups:write.
var operationScopes = map[OperationKind]string{
	OpCreateUser:        ScopeUsersWrite,
	OpUpdateUser:        ScopeUsersWrite,
	OpDeactivateUser:    ScopeUsersWrite,
	OpDeleteUser:        ScopeUsersWrite,
	OpCreateGroup:       ScopeGroupsWrite,
	OpUpdateGroup:       ScopeGroupsWrite,
	OpDeleteGroup:       ScopeGroupsWrite,
	OpAddGroupMember:    ScopeGroupsWrite,
	OpRemoveGroupMember: ScopeGroupsWrite,
}

// ScopeForOperation returns the scope required to emit op. The second return
// is false for unknown operation kinds.
func ScopeForOperation(op OperationKind) (string, bool) {
	s, ok := operationScopes[op]
	return s, ok
}

// RequiredScopes returns the sorted, de-duplicated scope set needed to emit
// every operation in ops. RequiredScopes(nil) is empty, and the function
// distributes over union: RequiredScopes(A ∪ B) = RequiredScopes(A) ∪
// RequiredScopes(B).
func RequiredScopes(ops []OperationKind) []string {
	set := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if s, ok := operationScopes[op]; ok {
			set[s] = struct{}{}
		}
	}
	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// MissingScopes returns the required scopes absent from granted, sorted.
func MissingScopes(granted []string, required []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}
