package relay

// Action is a relay message action.
type Action int

// Relay actions. Connect and disconnect are route signals, not actions.
const (
	ActionRegister Action = iota + 1
	ActionStateUpdate
	ActionDeviceUpsert
	ActionListDevices
	ActionDeviceDelete
	ActionKeepalive
)

var actionNames = map[Action]string{
	ActionRegister:     "register",
	ActionStateUpdate:  "state_update",
	ActionDeviceUpsert: "device_upsert",
	ActionListDevices:  "list_devices",
	ActionDeviceDelete: "device_delete",
	ActionKeepalive:    "keepalive",
}

var actionsByName = map[string]Action{
	"register":      ActionRegister,
	"state_update":  ActionStateUpdate,
	"device_upsert": ActionDeviceUpsert,
	"list_devices":  ActionListDevices,
	"device_delete": ActionDeviceDelete,
	"delete_device": ActionDeviceDelete,
	"keepalive":     ActionKeepalive,
}

// ParseAction resolves an action name, including the delete_device alias.
func ParseAction(name string) (Action, bool) {
	a, ok := actionsByName[name]
	return a, ok
}

// String returns the canonical action name, which is also the rate-limit key.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}
