package admin

// Action is an admin message action.
type Action int

// Admin actions.
const (
	ActionCreateClient Action = iota + 1
	ActionListClients
	ActionUpdateClient
	ActionRevokeClient
	ActionDeleteClient
	ActionAddUserToClient
	ActionRemoveUserFromClient
	ActionListClientUsers
)

var actionNames = map[Action]string{
	ActionCreateClient:         "admin_create_client",
	ActionListClients:          "admin_list_clients",
	ActionUpdateClient:         "admin_update_client",
	ActionRevokeClient:         "admin_revoke_client",
	ActionDeleteClient:         "admin_delete_client",
	ActionAddUserToClient:      "admin_add_user_to_client",
	ActionRemoveUserFromClient: "admin_remove_user_from_client",
	ActionListClientUsers:      "admin_list_client_users",
}

// ParseAction resolves an admin action name.
func ParseAction(name string) (Action, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// String returns the wire name of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}
