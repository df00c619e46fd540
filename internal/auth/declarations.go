package auth

import "fmt"

// defaultAllowList applies to operations without an explicit declaration:
// any authenticated caller, never an anonymous one.
var defaultAllowList = []Role{RoleUser, RoleAdmin}

// DefaultAllowList returns a copy of the roles admitted to undeclared
// operations.
func DefaultAllowList() []Role {
	return append([]Role(nil), defaultAllowList...)
}

// Declarations maps operation ids to the roles allowed to invoke them.
// It is populated at startup and only read afterwards, so concurrent
// AllowedRoles/Permits calls need no locking.
type Declarations struct {
	ops map[string][]Role
}

// NewDeclarations creates an empty registry.
func NewDeclarations() *Declarations {
	return &Declarations{ops: make(map[string][]Role)}
}

// Declare attaches an allow-list to op. Declaring no roles leaves op on the
// default allow-list. Declaring the same op twice or an unknown role is a
// programming error and panics.
func (d *Declarations) Declare(op string, roles ...Role) {
	if _, dup := d.ops[op]; dup {
		panic(fmt.Sprintf("auth: operation %q declared twice", op))
	}
	for _, r := range roles {
		if !IsValidRole(r) {
			panic(fmt.Sprintf("auth: operation %q declares unknown role %q", op, r))
		}
	}
	if len(roles) == 0 {
		roles = defaultAllowList
	}
	d.ops[op] = append([]Role(nil), roles...)
}

// AllowedRoles returns a copy of op's allow-list, or the default list.
func (d *Declarations) AllowedRoles(op string) []Role {
	roles, ok := d.ops[op]
	if !ok {
		roles = defaultAllowList
	}
	return append([]Role(nil), roles...)
}

// Permits reports whether role may invoke op.
func (d *Declarations) Permits(op string, role Role) bool {
	roles, ok := d.ops[op]
	if !ok {
		roles = defaultAllowList
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
