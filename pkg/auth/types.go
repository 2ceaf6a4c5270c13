package auth

// Principal is any authenticated caller: a user, a service account or the
// system itself. The API layer builds one from validated token claims and
// threads it through the request context.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
	GetPermissions() []string
	// HasPermission reports whether the principal may perform perm. The
	// admin role passes every check; everyone else needs the explicit grant.
	HasPermission(perm string) bool
}

// BasePrincipal is the claims-backed Principal implementation.
type BasePrincipal struct {
	ID          string
	TenantID    string
	Roles       []string
	Permissions []string
}

func (b *BasePrincipal) GetID() string { return b.ID }

func (b *BasePrincipal) GetTenantID() string { return b.TenantID }

func (b *BasePrincipal) GetRoles() []string { return b.Roles }

func (b *BasePrincipal) GetPermissions() []string { return b.Permissions }

func (b *BasePrincipal) HasPermission(perm string) bool {
	for _, role := range b.Roles {
		if role == "admin" {
			return true
		}
	}
	for _, p := range b.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
