package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDoorRead           Permission = "door:read"
	PermDoorOccupy         Permission = "door:occupy"
	PermDoorOverride       Permission = "door:override"
	PermDoorConfigure      Permission = "door:configure"
	PermCredentialValidate Permission = "credential:validate"
	PermCabinetManage      Permission = "cabinet:manage"
	PermAuditRead          Permission = "audit:read"
	PermUserManage         Permission = "user:manage"
	PermSystemAdmin        Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleCourier: {
		PermDoorRead,
		PermDoorOccupy,
	},
	RoleOperator: {
		PermDoorRead,
		PermDoorOccupy,
		PermDoorOverride,
		PermCredentialValidate,
		PermAuditRead,
	},
	RoleAdmin: {
		PermDoorRead,
		PermDoorOccupy,
		PermDoorOverride,
		PermDoorConfigure,
		PermCredentialValidate,
		PermCabinetManage,
		PermAuditRead,
		PermUserManage,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
