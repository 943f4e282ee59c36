package authz

const (
	RoleUser    = 10
	RoleSupport = 20
	RoleAudit   = 30
	RoleAdmin   = 50
)

// CanManageCredentials reports whether the role may set another user's
// password.
func CanManageCredentials(roleID int) bool {
	return roleID == RoleAdmin
}

// IsReadOnly roles may look at accounts but never change them.
func IsReadOnly(roleID int) bool {
	return roleID == RoleAudit
}
