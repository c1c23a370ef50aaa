// Package api implements the uniform host surface behind engine.API. The
// Host owns nothing heavier than wiring: commands go to the Sender, echoes
// to the Output, variables to the vars store, game state reads to the
// MSDP/GMCP snapshot, and map calls to the automapper collaborator.
package api

import (
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/yaoapp/kun/log"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/gamestate"
	"github.com/bylins/mudscript/pattern"
	"github.com/bylins/mudscript/timer"
	"github.com/bylins/mudscript/value"
	"github.com/bylins/mudscript/vars"
)

// Sender dispatches commands to the game server
type Sender interface {
	Send(command string)
}

// Output prints text into the local game window
type Output interface {
	Print(text string)
}

// Mapper the automapper call-through surface
type Mapper interface {
	CurrentRoom() value.Value
	SearchRooms(query string) value.Value
	CreateRoom(data value.Value) value.Value
	HandleMovement(direction string)
	SetRoomZone(roomID string, zone string)
}

var colors = map[string]color.Attribute{
	"black":   color.FgBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
	"gray":    color.FgHiBlack,
}

// Host the default engine.API implementation
type Host struct {
	Sender   Sender
	Output   Output
	Vars     vars.Store
	State    *gamestate.State
	Mapper   Mapper
	Triggers *pattern.Registry
	Aliases  *pattern.Registry
	Timers   *timer.Manager
}

// New create a host over in-memory collaborators. Nil Sender, Output and
// Mapper are tolerated; the corresponding calls become no-ops so a
// partially wired host (tests, headless runs) stays usable.
func New() *Host {
	return &Host{
		Vars:     vars.NewMemory(),
		State:    gamestate.New(),
		Triggers: pattern.NewRegistry(),
		Aliases:  pattern.NewRegistry(),
	}
}

// Send dispatch a command to the game server
func (h *Host) Send(command string) {
	if h.Sender == nil {
		log.Trace("api send dropped, no sender: %s", command)
		return
	}
	h.Sender.Send(command)
}

// Echo print text locally. Unknown color names print uncolored.
func (h *Host) Echo(text string, colorName string) {
	if h.Output == nil {
		return
	}
	if attr, has := colors[strings.ToLower(colorName)]; has {
		text = color.New(attr).Sprint(text)
	}
	h.Output.Print(text)
}

// Log write a diagnostic line
func (h *Host) Log(message string) {
	log.Info("%s", message)
}

// GetVar read a variable
func (h *Host) GetVar(name string) (string, bool) {
	if h.Vars == nil {
		return "", false
	}
	return h.Vars.Get(name)
}

// SetVar write a variable
func (h *Host) SetVar(name string, val string) {
	if h.Vars != nil {
		h.Vars.Set(name, val)
	}
}

// DeleteVar remove a variable
func (h *Host) DeleteVar(name string) {
	if h.Vars != nil {
		h.Vars.Delete(name)
	}
}

// ListVars the variable names
func (h *Host) ListVars() []string {
	if h.Vars == nil {
		return []string{}
	}
	return h.Vars.List()
}

// AddTrigger register a trigger whose callback is a foreign callable. The
// callback receives the full line and the capture groups as a list; its
// return value picks the verdict ("stop", "gag", anything else continues).
func (h *Host) AddTrigger(source string, priority int, cb engine.Invocable) (string, error) {
	return h.Triggers.Register(source, priority, false, false, func(line string, groups []string) pattern.Verdict {
		items := make([]value.Value, 0, len(groups))
		for _, g := range groups {
			items = append(items, value.NewString(g))
		}
		res, err := cb.Invoke(value.NewString(line), value.NewList(items...))
		if err != nil {
			log.With(log.F{"pattern": source}).Error("trigger callback: %s", err.Error())
			return pattern.Continue
		}
		switch strings.ToLower(res.Text()) {
		case "stop":
			return pattern.Stop
		case "gag":
			return pattern.Gag
		}
		return pattern.Continue
	})
}

// AddAlias register a replacement alias. Matching an alias expands
// $1..$n capture references in the replacement, sends the result, and
// swallows the original command.
func (h *Host) AddAlias(source string, replacement string) (string, error) {
	return h.Aliases.Register(source, 0, false, false, func(line string, groups []string) pattern.Verdict {
		h.Send(expandGroups(replacement, groups))
		return pattern.Gag
	})
}

// RemoveTrigger unregister a trigger
func (h *Host) RemoveTrigger(id string) { h.Triggers.Unregister(id) }

// RemoveAlias unregister an alias
func (h *Host) RemoveAlias(id string) { h.Aliases.Unregister(id) }

// EnableTrigger enable a trigger
func (h *Host) EnableTrigger(id string) { h.Triggers.Enable(id) }

// DisableTrigger disable a trigger
func (h *Host) DisableTrigger(id string) { h.Triggers.Disable(id) }

// SetTimeout schedule a one-shot timer
func (h *Host) SetTimeout(delay int64, cb engine.Invocable) string {
	if h.Timers == nil {
		return ""
	}
	return h.Timers.SetTimeout(delay, cb)
}

// SetInterval schedule a repeating timer
func (h *Host) SetInterval(interval int64, cb engine.Invocable) string {
	if h.Timers == nil {
		return ""
	}
	return h.Timers.SetInterval(interval, cb)
}

// ClearTimer cancel a timer
func (h *Host) ClearTimer(id string) {
	if h.Timers != nil {
		h.Timers.Clear(id)
	}
}

// GetMSDPValue one MSDP variable
func (h *Host) GetMSDPValue(key string) value.Value {
	if h.State == nil {
		return value.Null()
	}
	return h.State.MSDP(key)
}

// AllMSDPData the whole MSDP snapshot
func (h *Host) AllMSDPData() value.Value {
	if h.State == nil {
		return value.NewMap(nil)
	}
	return h.State.AllMSDP()
}

// GetGMCPValue one GMCP package
func (h *Host) GetGMCPValue(key string) value.Value {
	if h.State == nil {
		return value.Null()
	}
	return h.State.GMCP(key)
}

// CurrentRoom the automapper's current room
func (h *Host) CurrentRoom() value.Value {
	if h.Mapper == nil {
		return value.Null()
	}
	return h.Mapper.CurrentRoom()
}

// SearchRooms search rooms by name
func (h *Host) SearchRooms(query string) value.Value {
	if h.Mapper == nil {
		return value.NewList()
	}
	return h.Mapper.SearchRooms(query)
}

// CreateRoom create a room from script-provided data
func (h *Host) CreateRoom(data value.Value) value.Value {
	if h.Mapper == nil {
		return value.Null()
	}
	return h.Mapper.CreateRoom(data)
}

// HandleMovement report a movement to the automapper
func (h *Host) HandleMovement(direction string) {
	if h.Mapper != nil {
		h.Mapper.HandleMovement(direction)
	}
}

// SetRoomZone assign a room to a zone
func (h *Host) SetRoomZone(roomID string, zone string) {
	if h.Mapper != nil {
		h.Mapper.SetRoomZone(roomID, zone)
	}
}

// HandleCommand match a user command against the alias registry. Returns
// true when an alias consumed the command.
func (h *Host) HandleCommand(command string) bool {
	out := h.Aliases.MatchLine(command)
	return out.Gagged
}

// expandGroups substitute $0..$n references with capture groups, longest
// index first so $10 wins over $1
func expandGroups(template string, groups []string) string {
	for i := len(groups) - 1; i >= 0; i-- {
		template = strings.ReplaceAll(template, "$"+strconv.Itoa(i), groups[i])
	}
	return template
}
