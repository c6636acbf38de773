package room

// Role is a principal's standing in one room, derived from creator_id and
// the membership relation. It never changes while a session is open.
type Role string

type Action string

const (
	RoleCreator Role = "creator"
	RoleMember  Role = "member"
	RoleNone    Role = "none"
)

const (
	ActionRead       Action = "read"
	ActionPost       Action = "post"
	ActionCreateTask Action = "create_task"
	ActionAddMember  Action = "add_member"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleCreator:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionPost || action == ActionCreateTask
	default:
		return false
	}
}
