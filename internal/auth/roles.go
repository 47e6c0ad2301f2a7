package auth

// Roles carried in the "role" claim of Supabase access tokens.
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleServiceRole   = "service_role"
)

// HasRole reports whether u holds any of roles.
func HasRole(u *User, roles ...string) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}
