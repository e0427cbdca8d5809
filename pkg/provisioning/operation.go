package provisioning

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoOperation marks event shapes that intentionally map to no SCIM call,
// such as an UPDATE on a group membership. Callers treat it as a synthetic
// success.
var ErrNoOperation = errors.New("event maps to no scim operation")

// ResolveOperation decides which SCIM operation a local event requires, given
// the destination's delete action. USER deletes become either a deactivation
// PATCH or a hard DELETE; group-member updates are a no-op.
func ResolveOperation(rt ResourceType, kind EventKind, action DeleteAction) (OperationKind, error) {
	switch rt {
	case ResourceUser:
		switch kind {
		case EventCreate:
			return OpCreateUser, nil
		case EventUpdate:
			return OpUpdateUser, nil
		case EventDelete:
			if action == DeleteActionHardDelete {
				return OpDeleteUser, nil
			}
			return OpDeactivateUser, nil
		}
	case ResourceGroup:
		switch kind {
		case EventCreate:
			return OpCreateGroup, nil
		case EventUpdate:
			return OpUpdateGroup, nil
		case EventDelete:
			return OpDeleteGroup, nil
		}
	case ResourceGroupMember:
		switch kind {
		case EventCreate:
			return OpAddGroupMember, nil
		case EventDelete:
			return OpRemoveGroupMember, nil
		case EventUpdate:
			return "", ErrNoOperation
		}
	}
	return "", fmt.Errorf("unsupported event (%s, %s)", rt, kind)
}

// Method returns the HTTP method the operation is emitted with.
func (op OperationKind) Method() string {
	switch op {
	case OpCreateUser, OpCreateGroup:
		return http.MethodPost
	case OpUpdateUser, OpUpdateGroup:
		return http.MethodPut
	case OpDeactivateUser, OpAddGroupMember, OpRemoveGroupMember:
		return http.MethodPatch
	case OpDeleteUser, OpDeleteGroup:
		return http.MethodDelete
	}
	return ""
}

// ResourcePath returns the SCIM collection the operation addresses.
func (op OperationKind) ResourcePath() string {
	switch op {
	case OpCreateUser, OpUpdateUser, OpDeactivateUser, OpDeleteUser:
		return "Users"
	default:
		return "Groups"
	}
}

// IsCreate reports whether the operation creates a downstream resource and
// therefore yields a new ResourceMapping from the response id.
func (op OperationKind) IsCreate() bool {
	return op == OpCreateUser || op == OpCreateGroup
}

// IsDelete reports whether the operation removes the downstream resource
// (hard user delete or group delete). Successful deletes clear the mapping;
// deactivation does too, since the local resource is gone.
func (op OperationKind) IsDelete() bool {
	return op == OpDeleteUser || op == OpDeleteGroup || op == OpDeactivateUser
}

// IsMembership reports whether the operation PATCHes a group's members.
func (op OperationKind) IsMembership() bool {
	return op == OpAddGroupMember || op == OpRemoveGroupMember
}

// TargetType returns the resource type whose mapping supplies the URL id:
// user operations address Users, everything else addresses Groups.
func (op OperationKind) TargetType() ResourceType {
	if op.ResourcePath() == "Users" {
		return ResourceUser
	}
	return ResourceGroup
}
