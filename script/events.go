package script

// Hook names looked up in script scopes. A script implements any subset;
// the rest are silent no-ops.
const (
	EventLoad        = "on_load"
	EventUnload      = "on_unload"
	EventConnect     = "on_connect"
	EventDisconnect  = "on_disconnect"
	EventLine        = "on_line"
	EventCommand     = "on_command"
	EventMSDP        = "on_msdp"
	EventTrigger     = "on_trigger"
	EventAlias       = "on_alias"
	EventRoomEnter   = "on_room_enter"
	EventCombatStart = "on_combat_start"
	EventCombatEnd   = "on_combat_end"
	EventDeath       = "on_death"
	EventLevelUp     = "on_level_up"
)
