// Package extproc runs scripting runtimes that cannot be embedded: an
// interpreter child per language, many scripts multiplexed over one child.
// The Go side stays thin: it launches the child with a stdin-eval stub,
// streams the embedded wrapper program to it, and serves the wrapper's
// api_* requests against the host API.
package extproc

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/yaoapp/kun/log"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/ipc"
	"github.com/bylins/mudscript/value"
)

// Sentinel ends the bootstrap stream; the stub evaluates everything read
// before it
const Sentinel = "__END_OF_BOOTSTRAP__"

// Config one interpreter language
type Config struct {
	Name       string
	Extensions []string
	Command    string
	Args       []string
	Wrapper    []byte
}

// Engine the out-of-process adapter
type Engine struct {
	cfg  Config
	api  engine.API
	proc *ipc.Process

	mu      sync.Mutex
	started bool
	scripts map[string]bool
}

type handle struct{ id string }

func (h *handle) ScriptID() string { return h.id }

// New create an engine for one language
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, scripts: map[string]bool{}}
}

// Name the engine name
func (e *Engine) Name() string { return e.cfg.Name }

// Extensions the claimed script extensions
func (e *Engine) Extensions() []string { return e.cfg.Extensions }

// IsAvailable whether the interpreter binary is on PATH
func (e *Engine) IsAvailable() bool {
	_, err := exec.LookPath(e.cfg.Command)
	return err == nil
}

// Initialize keep the host API and launch the child once
func (e *Engine) Initialize(api engine.API) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.api = api
	if e.started {
		return nil
	}

	e.proc = ipc.NewProcess(e.cfg.Name, e.Serve)
	bootstrap := append(append([]byte{}, e.cfg.Wrapper...), []byte("\n"+Sentinel+"\n")...)
	if err := e.proc.Start(e.cfg.Command, e.cfg.Args, bootstrap); err != nil {
		return err
	}
	e.started = true
	return nil
}

// LoadScript ship the source to the wrapper, which evaluates it in a fresh
// per-script namespace
func (e *Engine) LoadScript(id string, path string, source []byte) (engine.Handle, error) {
	res, ok := e.proc.Call("load_script", map[string]interface{}{
		"script": id,
		"path":   path,
		"source": string(source),
	}, ipc.LoadTimeout)
	if !ok {
		return nil, fmt.Errorf("%s: load of %s timed out", e.cfg.Name, id)
	}
	if msg := text(res, "error"); msg != "" {
		return nil, fmt.Errorf("%s", msg)
	}

	e.mu.Lock()
	e.scripts[id] = true
	e.mu.Unlock()
	return &handle{id: id}, nil
}

// CallFunction invoke a top-level function in the script's namespace. The
// wrapper reports whether the name existed; a missing function is a
// silent no-op.
func (e *Engine) CallFunction(h engine.Handle, name string, args ...value.Value) (value.Value, error) {
	wireArgs := make([]interface{}, 0, len(args))
	for _, arg := range args {
		wireArgs = append(wireArgs, arg.ToInterface())
	}

	res, ok := e.proc.Call("call_function", map[string]interface{}{
		"script":   h.ScriptID(),
		"function": name,
		"args":     wireArgs,
	}, ipc.DefaultCallTimeout)
	if !ok {
		// no answer in time is an empty result, not a script error; the
		// transport already logged the timeout
		log.Trace("%s: no answer for %s.%s", e.cfg.Name, h.ScriptID(), name)
		return value.Null(), nil
	}
	if found, _ := res["found"].(bool); !found {
		return value.Null(), nil
	}
	if msg := text(res, "error"); msg != "" {
		return value.Null(), fmt.Errorf("%s", msg)
	}
	return value.FromInterface(res["result"]), nil
}

// UnloadScript drop the script's namespace in the wrapper
func (e *Engine) UnloadScript(h engine.Handle) error {
	e.mu.Lock()
	delete(e.scripts, h.ScriptID())
	e.mu.Unlock()
	e.proc.Notify("unload_script", map[string]interface{}{"script": h.ScriptID()})
	return nil
}

// Shutdown stop the child
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	started := e.started
	e.started = false
	e.mu.Unlock()
	if started {
		e.proc.Shutdown()
	}
	return nil
}

// remoteCallback a wrapper-side callable addressed by token. Firing it is
// a synchronous round trip so trigger verdicts make it back.
type remoteCallback struct {
	proc  *ipc.Process
	token string
}

func (cb *remoteCallback) Invoke(args ...value.Value) (value.Value, error) {
	wireArgs := make([]interface{}, 0, len(args))
	for _, arg := range args {
		wireArgs = append(wireArgs, arg.ToInterface())
	}

	res, ok := cb.proc.Call("callback_fire", map[string]interface{}{
		"callback": cb.token,
		"args":     wireArgs,
	}, ipc.DefaultCallTimeout)
	if !ok {
		log.Trace("callback %s: no answer", cb.token)
		return value.Null(), nil
	}
	if msg := text(res, "error"); msg != "" {
		return value.Null(), fmt.Errorf("%s", msg)
	}
	return value.FromInterface(res["result"]), nil
}

// Serve dispatch one api_* request from the wrapper against the host API.
// Exported for the transport-level tests; the ipc reader goroutine is the
// real caller.
func (e *Engine) Serve(msgType string, data map[string]interface{}) map[string]interface{} {
	switch msgType {

	case "api_send":
		e.api.Send(text(data, "command"))
		return nil

	case "api_echo":
		e.api.Echo(text(data, "text"), text(data, "color"))
		return nil

	case "api_log":
		e.api.Log(text(data, "message"))
		return nil

	case "api_get_var":
		val, found := e.api.GetVar(text(data, "name"))
		return map[string]interface{}{"value": val, "found": found}

	case "api_set_var":
		e.api.SetVar(text(data, "name"), text(data, "value"))
		return nil

	case "api_delete_var":
		e.api.DeleteVar(text(data, "name"))
		return nil

	case "api_list_vars":
		names := e.api.ListVars()
		list := make([]interface{}, 0, len(names))
		for _, name := range names {
			list = append(list, name)
		}
		return map[string]interface{}{"names": list}

	case "api_add_trigger":
		cb := &remoteCallback{proc: e.proc, token: text(data, "callback")}
		id, err := e.api.AddTrigger(text(data, "pattern"), int(integer(data, "priority")), cb)
		if err != nil {
			return map[string]interface{}{"error": err.Error()}
		}
		return map[string]interface{}{"id": id}

	case "api_add_alias":
		id, err := e.api.AddAlias(text(data, "pattern"), text(data, "replacement"))
		if err != nil {
			return map[string]interface{}{"error": err.Error()}
		}
		return map[string]interface{}{"id": id}

	case "api_remove_trigger":
		e.api.RemoveTrigger(text(data, "id"))
		return nil

	case "api_remove_alias":
		e.api.RemoveAlias(text(data, "id"))
		return nil

	case "api_enable_trigger":
		e.api.EnableTrigger(text(data, "id"))
		return nil

	case "api_disable_trigger":
		e.api.DisableTrigger(text(data, "id"))
		return nil

	case "api_set_timeout":
		cb := &remoteCallback{proc: e.proc, token: text(data, "callback")}
		return map[string]interface{}{"id": e.api.SetTimeout(integer(data, "delay"), cb)}

	case "api_set_interval":
		cb := &remoteCallback{proc: e.proc, token: text(data, "callback")}
		return map[string]interface{}{"id": e.api.SetInterval(integer(data, "interval"), cb)}

	case "api_clear_timer":
		e.api.ClearTimer(text(data, "id"))
		return nil

	case "api_get_msdp_value":
		return map[string]interface{}{"value": e.api.GetMSDPValue(text(data, "key")).ToInterface()}

	case "api_get_all_msdp_data":
		return map[string]interface{}{"value": e.api.AllMSDPData().ToInterface()}

	case "api_get_gmcp_value":
		return map[string]interface{}{"value": e.api.GetGMCPValue(text(data, "key")).ToInterface()}

	case "api_get_current_room":
		return map[string]interface{}{"value": e.api.CurrentRoom().ToInterface()}

	case "api_search_rooms":
		return map[string]interface{}{"value": e.api.SearchRooms(text(data, "query")).ToInterface()}

	case "api_create_room":
		return map[string]interface{}{"value": e.api.CreateRoom(value.FromInterface(data["room"])).ToInterface()}

	case "api_handle_movement":
		e.api.HandleMovement(text(data, "direction"))
		return nil

	case "api_set_room_zone":
		e.api.SetRoomZone(text(data, "room"), text(data, "zone"))
		return nil
	}

	return map[string]interface{}{"error": "unknown request " + msgType}
}

// text a string field of a request, tolerant of absence
func text(data map[string]interface{}, key string) string {
	val, _ := data[key].(string)
	return val
}

// integer a numeric field of a request. The codec decodes numbers as
// json.Number, so convert through the value model.
func integer(data map[string]interface{}, key string) int64 {
	v := value.FromInterface(data[key])
	switch v.Kind {
	case value.KindInt:
		return v.Int
	case value.KindFloat:
		return int64(v.Float)
	}
	return 0
}
