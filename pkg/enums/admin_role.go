package enums

import "fmt"

// AdminRole scopes what back-office operations a staff token may perform.
type AdminRole string

const (
	AdminRoleOperator AdminRole = "operator"
	AdminRoleFinance  AdminRole = "finance"
	AdminRoleSupport  AdminRole = "support"
)

var validAdminRoles = []AdminRole{
	AdminRoleOperator,
	AdminRoleFinance,
	AdminRoleSupport,
}

func (r AdminRole) String() string {
	return string(r)
}

// IsValid reports whether the value matches a known admin role.
func (r AdminRole) IsValid() bool {
	for _, candidate := range validAdminRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanMutateBilling reports whether the role may run billing mutations.
func (r AdminRole) CanMutateBilling() bool {
	return r == AdminRoleOperator || r == AdminRoleFinance
}

// ParseAdminRole converts raw input into AdminRole.
func ParseAdminRole(value string) (AdminRole, error) {
	for _, candidate := range validAdminRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid admin role %q", value)
}
