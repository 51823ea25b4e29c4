package rbac

type Role string
type Action string

const (
	RoleLearner Role = "learner"
	RoleAdmin   Role = "admin"
)

const (
	ActionViewForms     Action = "view_forms"
	ActionSubmit        Action = "submit"
	ActionManageForms   Action = "manage_forms"
	ActionViewResponses Action = "view_responses"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLearner:
		return action == ActionViewForms || action == ActionSubmit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleLearner, RoleAdmin:
		return Role(role)
	default:
		return RoleLearner
	}
}

// Privileged reports whether role has full form management and response visibility.
func Privileged(role Role) bool {
	return role == RoleAdmin
}
