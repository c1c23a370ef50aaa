// Package engine defines the contract between the script host and one
// embedded scripting runtime. Each adapter (JavaScript, Lua, the external
// Perl and Python processes) implements Engine by whatever means its runtime
// requires; callers never branch on the runtime kind.
package engine

import (
	"github.com/bylins/mudscript/value"
)

// Invocable a callable captured from a foreign runtime. Invoke is the one
// canonical calling convention; the adapter that produced the Invocable
// performs whatever probing its runtime needs internally.
type Invocable interface {
	Invoke(args ...value.Value) (value.Value, error)
}

// Handle the engine-side resources of one loaded script. Opaque to the
// host; only the adapter that issued it can interpret it.
type Handle interface {
	ScriptID() string
}

// API the uniform host surface exposed into every embedded script. The
// implementations behind it (connection layer, variable store, game state,
// automapper) are external collaborators reached by delegation.
type API interface {
	// Send dispatch a command to the game server
	Send(command string)

	// Echo print text locally, color is an optional color name
	Echo(text string, color string)

	// Log write a structured diagnostic line
	Log(message string)

	// Variables, string keyed and string valued
	GetVar(name string) (string, bool)
	SetVar(name string, val string)
	DeleteVar(name string)
	ListVars() []string

	// Pattern registration. Trigger callbacks receive the line and the
	// capture groups; alias replacements support $1..$n substitution.
	AddTrigger(pattern string, priority int, cb Invocable) (string, error)
	AddAlias(pattern string, replacement string) (string, error)
	RemoveTrigger(id string)
	RemoveAlias(id string)
	EnableTrigger(id string)
	DisableTrigger(id string)

	// Timers, delays in milliseconds
	SetTimeout(delay int64, cb Invocable) string
	SetInterval(interval int64, cb Invocable) string
	ClearTimer(id string)

	// Read-only game state
	GetMSDPValue(key string) value.Value
	AllMSDPData() value.Value
	GetGMCPValue(key string) value.Value

	// Automapper call-through
	CurrentRoom() value.Value
	SearchRooms(query string) value.Value
	CreateRoom(data value.Value) value.Value
	HandleMovement(direction string)
	SetRoomZone(roomID string, zone string)
}

// Engine one embedded scripting runtime
type Engine interface {
	// Name the engine name ("javascript", "lua", "python", "perl")
	Name() string

	// Extensions the script file extensions this engine claims
	Extensions() []string

	// IsAvailable reports whether the runtime can be instantiated at all,
	// without side effects
	IsAvailable() bool

	// Initialize idempotent setup: keep the host API and install the glue
	// layer into the runtime
	Initialize(api API) error

	// LoadScript evaluate the source in an isolated per-script scope.
	// Load failures come back as an error carrying the runtime's own
	// diagnostic; the host records it, it is never propagated further.
	LoadScript(id string, path string, source []byte) (Handle, error)

	// CallFunction invoke a top-level function in the script's scope.
	// A missing function is a normal no-op returning Null, never an error.
	CallFunction(h Handle, name string, args ...value.Value) (value.Value, error)

	// UnloadScript release the script's scope
	UnloadScript(h Handle) error

	// Shutdown release every scope and any external resources
	Shutdown() error
}
