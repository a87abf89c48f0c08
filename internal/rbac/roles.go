package rbac

// Role names. Keep these stable; they are embedded in session tokens.
const (
	RoleUser     = "user"
	RoleOperator = "operator"
)

func IsOperator(role string) bool { return role == RoleOperator }
