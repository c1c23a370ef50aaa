// Package mudscript is the scripting core of a MUD client: pattern-matched
// triggers and aliases, user variables, timers, and scripts in four
// languages driven through one host API. The connection layer feeds lines
// in through Client and sends whatever the scripts produce.
package mudscript

import (
	"github.com/yaoapp/kun/log"

	"github.com/bylins/mudscript/api"
	"github.com/bylins/mudscript/engine/extproc"
	"github.com/bylins/mudscript/engine/js"
	"github.com/bylins/mudscript/engine/lua"
	"github.com/bylins/mudscript/script"
	"github.com/bylins/mudscript/timer"
	"github.com/bylins/mudscript/value"
	"github.com/bylins/mudscript/vars"
)

// Client the assembled scripting core
type Client struct {
	Host    *api.Host
	Scripts *script.Manager

	opt       Option
	stopWatch func()
}

// New assemble a client: host API, timers, engines, and the scripts found
// in the configured directory
func New(opt Option) (*Client, error) {
	host := api.New()

	if opt.VarsFile != "" {
		store, err := vars.NewBuntDB(opt.VarsFile)
		if err != nil {
			return nil, err
		}
		host.Vars = store
	}

	manager := script.NewManager(host)

	// timer callbacks run foreign-runtime code; funnel them through the
	// manager so they never race an event pass
	host.Timers = timer.New(manager.Dispatch)

	if err := manager.RegisterEngine(js.New()); err != nil {
		return nil, err
	}
	if err := manager.RegisterEngine(lua.New()); err != nil {
		return nil, err
	}
	if !opt.Python.Disabled {
		if err := manager.RegisterEngine(extproc.NewPython(opt.Python.Command)); err != nil {
			return nil, err
		}
	}
	if !opt.Perl.Disabled {
		if err := manager.RegisterEngine(extproc.NewPerl(opt.Perl.Command)); err != nil {
			return nil, err
		}
	}

	c := &Client{Host: host, Scripts: manager, opt: opt}

	if opt.ScriptsDir != "" {
		if err := manager.LoadDirectory(opt.ScriptsDir); err != nil {
			return nil, err
		}
		if opt.Watch {
			stop, err := manager.Watch(opt.ScriptsDir)
			if err != nil {
				log.Error("script watcher: %s", err.Error())
			} else {
				c.stopWatch = stop
			}
		}
	}

	return c, nil
}

// ProcessLine run one server line through the trigger registry and the
// on_line hooks. Returns false when a trigger gagged the line and it
// should not reach the screen.
func (c *Client) ProcessLine(line string) bool {
	out := c.Host.Triggers.MatchLine(line)
	c.Scripts.FireEvent(script.EventLine, value.NewString(line))
	return !out.Gagged
}

// ProcessCommand run one user command through the alias registry and the
// on_command hooks. Returns false when an alias consumed the command and
// the original text should not go to the server.
func (c *Client) ProcessCommand(command string) bool {
	if c.Host.HandleCommand(command) {
		c.Scripts.FireEvent(script.EventAlias, value.NewString(command))
		return false
	}
	c.Scripts.FireEvent(script.EventCommand, value.NewString(command))
	return true
}

// HandleMSDP record one MSDP variable and notify the scripts
func (c *Client) HandleMSDP(key string, val value.Value) {
	c.Host.State.UpdateMSDP(key, val)
	c.Scripts.FireEvent(script.EventMSDP, value.NewString(key), val)
}

// HandleGMCP record one GMCP package
func (c *Client) HandleGMCP(pkg string, val value.Value) {
	c.Host.State.UpdateGMCP(pkg, val)
}

// Connected notify the scripts the connection is up
func (c *Client) Connected() { c.Scripts.FireEvent(script.EventConnect) }

// Disconnected notify the scripts the connection dropped
func (c *Client) Disconnected() { c.Scripts.FireEvent(script.EventDisconnect) }

// RoomEntered notify the scripts of a mapper room change
func (c *Client) RoomEntered(room value.Value) {
	c.Scripts.FireEvent(script.EventRoomEnter, room)
}

// CombatStarted notify the scripts a fight began
func (c *Client) CombatStarted(target string) {
	c.Scripts.FireEvent(script.EventCombatStart, value.NewString(target))
}

// CombatEnded notify the scripts the fight is over
func (c *Client) CombatEnded() { c.Scripts.FireEvent(script.EventCombatEnd) }

// Died notify the scripts the player died
func (c *Client) Died() { c.Scripts.FireEvent(script.EventDeath) }

// LeveledUp notify the scripts of a level gain
func (c *Client) LeveledUp(level int64) {
	c.Scripts.FireEvent(script.EventLevelUp, value.NewInt(level))
}

// Close stop the watcher, the timers, the scripts and the engines
func (c *Client) Close() {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	if c.Host.Timers != nil {
		c.Host.Timers.Shutdown()
	}
	c.Scripts.Shutdown()
	if store, ok := c.Host.Vars.(*vars.BuntDB); ok {
		store.Close()
	}
}
