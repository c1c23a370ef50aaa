// Package lua embeds Lua on gopher-lua. Each script owns a sandboxed
// LState: only the safe standard libraries are opened and the file/loader
// globals are stripped, so scripts can neither touch the filesystem nor
// reach into each other's globals.
package lua

import (
	"fmt"
	"math"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/value"
)

// Engine the gopher-lua adapter
type Engine struct {
	mu     sync.Mutex
	api    engine.API
	states map[string]*glua.LState
}

type handle struct {
	id string
	L  *glua.LState
}

func (h *handle) ScriptID() string { return h.id }

// New create the engine
func New() *Engine {
	return &Engine{states: map[string]*glua.LState{}}
}

// Name the engine name
func (e *Engine) Name() string { return "lua" }

// Extensions the claimed script extensions
func (e *Engine) Extensions() []string { return []string{".lua"} }

// IsAvailable gopher-lua is compiled in, so the runtime is always there
func (e *Engine) IsAvailable() bool { return true }

// Initialize keep the host API
func (e *Engine) Initialize(api engine.API) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.api = api
	return nil
}

// LoadScript evaluate the source in a fresh sandboxed state. Lua's own
// diagnostic, line number included, comes back on failure.
func (e *Engine) LoadScript(id string, path string, source []byte) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.api == nil {
		return nil, fmt.Errorf("lua engine is not initialized")
	}

	L := e.newState()
	if err := L.DoString(string(source)); err != nil {
		L.Close()
		return nil, err
	}

	e.states[id] = L
	return &handle{id: id, L: L}, nil
}

// CallFunction invoke a top-level function of the script. A missing or
// non-function name is a silent no-op.
func (e *Engine) CallFunction(h engine.Handle, name string, args ...value.Value) (value.Value, error) {
	hd, ok := h.(*handle)
	if !ok || hd.L == nil {
		return value.Null(), fmt.Errorf("lua: bad script handle")
	}

	fn := hd.L.GetGlobal(name)
	if fn.Type() != glua.LTFunction {
		return value.Null(), nil
	}

	luaArgs := make([]glua.LValue, 0, len(args))
	for _, arg := range args {
		luaArgs = append(luaArgs, toLua(hd.L, arg))
	}

	err := hd.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...)
	if err != nil {
		return value.Null(), fmt.Errorf("%s.%s %s", hd.id, name, err.Error())
	}

	ret := hd.L.Get(-1)
	hd.L.Pop(1)
	return fromLua(ret), nil
}

// UnloadScript close the script's state
func (e *Engine) UnloadScript(h engine.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if L, has := e.states[hd.id]; has && L == hd.L {
		delete(e.states, hd.id)
	}
	if hd.L != nil {
		hd.L.Close()
		hd.L = nil
	}
	return nil
}

// Shutdown close every state
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, L := range e.states {
		L.Close()
		delete(e.states, id)
	}
	return nil
}

// newState create a sandboxed state with the glue installed
func (e *Engine) newState() *glua.LState {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})

	glua.OpenBase(L)
	glua.OpenTable(L)
	glua.OpenString(L)
	glua.OpenMath(L)

	// dangerous globals left by OpenBase
	for _, name := range []string{"dofile", "loadfile", "load", "collectgarbage"} {
		L.SetGlobal(name, glua.LNil)
	}

	e.registerGlue(L)
	return L
}

// callback a Lua callable captured for triggers and timers. A function is
// retained directly; a string resolves as a global name at fire time.
type callback struct {
	L    *glua.LState
	fn   *glua.LFunction
	name string
}

// Invoke marshal the arguments and call the Lua side
func (cb *callback) Invoke(args ...value.Value) (value.Value, error) {
	var fn glua.LValue
	if cb.fn != nil {
		fn = cb.fn
	} else {
		fn = cb.L.GetGlobal(cb.name)
		if fn.Type() != glua.LTFunction {
			return value.Null(), fmt.Errorf("lua callback %s not found", cb.name)
		}
	}

	luaArgs := make([]glua.LValue, 0, len(args))
	for _, arg := range args {
		luaArgs = append(luaArgs, toLua(cb.L, arg))
	}

	err := cb.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...)
	if err != nil {
		return value.Null(), err
	}

	ret := cb.L.Get(-1)
	cb.L.Pop(1)
	return fromLua(ret), nil
}

// newCallback checks the argument for the runtime's callable shapes
func newCallback(L *glua.LState, arg glua.LValue) (engine.Invocable, error) {
	switch v := arg.(type) {
	case *glua.LFunction:
		return &callback{L: L, fn: v}, nil
	case glua.LString:
		return &callback{L: L, name: string(v)}, nil
	default:
		return nil, fmt.Errorf("callback must be a function or a function name")
	}
}

// registerGlue install the host functions as script globals
func (e *Engine) registerGlue(L *glua.LState) {

	L.SetGlobal("send", L.NewFunction(func(L *glua.LState) int {
		e.api.Send(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("echo", L.NewFunction(func(L *glua.LState) int {
		e.api.Echo(L.CheckString(1), L.OptString(2, ""))
		return 0
	}))

	mudLog := L.NewFunction(func(L *glua.LState) int {
		e.api.Log(L.CheckString(1))
		return 0
	})
	L.SetGlobal("mud_log", mudLog)
	L.SetGlobal("log", mudLog)

	L.SetGlobal("get_var", L.NewFunction(func(L *glua.LState) int {
		val, has := e.api.GetVar(L.CheckString(1))
		if !has {
			L.Push(glua.LNil)
			return 1
		}
		L.Push(glua.LString(val))
		return 1
	}))

	L.SetGlobal("set_var", L.NewFunction(func(L *glua.LState) int {
		e.api.SetVar(L.CheckString(1), L.ToStringMeta(L.Get(2)).String())
		return 0
	}))

	L.SetGlobal("delete_var", L.NewFunction(func(L *glua.LState) int {
		e.api.DeleteVar(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("list_vars", L.NewFunction(func(L *glua.LState) int {
		tbl := L.NewTable()
		for _, name := range e.api.ListVars() {
			tbl.Append(glua.LString(name))
		}
		L.Push(tbl)
		return 1
	}))

	L.SetGlobal("add_trigger", L.NewFunction(func(L *glua.LState) int {
		cb, err := newCallback(L, L.Get(2))
		if err != nil {
			L.RaiseError("add_trigger: %s", err.Error())
			return 0
		}
		id, err := e.api.AddTrigger(L.CheckString(1), L.OptInt(3, 0), cb)
		if err != nil {
			L.RaiseError("add_trigger: %s", err.Error())
			return 0
		}
		L.Push(glua.LString(id))
		return 1
	}))

	L.SetGlobal("add_alias", L.NewFunction(func(L *glua.LState) int {
		id, err := e.api.AddAlias(L.CheckString(1), L.CheckString(2))
		if err != nil {
			L.RaiseError("add_alias: %s", err.Error())
			return 0
		}
		L.Push(glua.LString(id))
		return 1
	}))

	L.SetGlobal("remove_trigger", L.NewFunction(func(L *glua.LState) int {
		e.api.RemoveTrigger(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("remove_alias", L.NewFunction(func(L *glua.LState) int {
		e.api.RemoveAlias(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("enable_trigger", L.NewFunction(func(L *glua.LState) int {
		e.api.EnableTrigger(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("disable_trigger", L.NewFunction(func(L *glua.LState) int {
		e.api.DisableTrigger(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("set_timeout", L.NewFunction(func(L *glua.LState) int {
		cb, err := newCallback(L, L.Get(1))
		if err != nil {
			L.RaiseError("set_timeout: %s", err.Error())
			return 0
		}
		L.Push(glua.LString(e.api.SetTimeout(int64(L.CheckNumber(2)), cb)))
		return 1
	}))

	L.SetGlobal("set_interval", L.NewFunction(func(L *glua.LState) int {
		cb, err := newCallback(L, L.Get(1))
		if err != nil {
			L.RaiseError("set_interval: %s", err.Error())
			return 0
		}
		L.Push(glua.LString(e.api.SetInterval(int64(L.CheckNumber(2)), cb)))
		return 1
	}))

	L.SetGlobal("clear_timer", L.NewFunction(func(L *glua.LState) int {
		e.api.ClearTimer(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("get_msdp_value", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.GetMSDPValue(L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("get_all_msdp_data", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.AllMSDPData()))
		return 1
	}))

	L.SetGlobal("get_gmcp_value", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.GetGMCPValue(L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("get_current_room", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.CurrentRoom()))
		return 1
	}))

	L.SetGlobal("search_rooms", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.SearchRooms(L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("create_room", L.NewFunction(func(L *glua.LState) int {
		L.Push(toLua(L, e.api.CreateRoom(fromLua(L.Get(1)))))
		return 1
	}))

	L.SetGlobal("handle_movement", L.NewFunction(func(L *glua.LState) int {
		e.api.HandleMovement(L.CheckString(1))
		return 0
	}))

	L.SetGlobal("set_room_zone", L.NewFunction(func(L *glua.LState) int {
		e.api.SetRoomZone(L.CheckString(1), L.CheckString(2))
		return 0
	}))
}

// toLua cast a canonical value to a Lua value
//
//	---------------------------------------------
//	| Canonical        | Lua                    |
//	---------------------------------------------
//	| Null             | nil                    |
//	| Bool             | boolean                |
//	| Int, Float       | number                 |
//	| String           | string                 |
//	| List             | table (array part)     |
//	| Map              | table (hash part)      |
//	---------------------------------------------
func toLua(L *glua.LState, v value.Value) glua.LValue {
	switch v.Kind {
	case value.KindNull:
		return glua.LNil
	case value.KindBool:
		return glua.LBool(v.Bool)
	case value.KindInt:
		return glua.LNumber(float64(v.Int))
	case value.KindFloat:
		return glua.LNumber(v.Float)
	case value.KindString:
		return glua.LString(v.Str)
	case value.KindList:
		tbl := L.NewTable()
		for _, item := range v.List {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case value.KindMap:
		tbl := L.NewTable()
		for key, item := range v.Map {
			tbl.RawSetString(key, toLua(L, item))
		}
		return tbl
	}
	return glua.LNil
}

// fromLua cast a Lua value to a canonical value. Total: functions,
// userdata and anything else without a data shape fall back to their
// textual form. A table with a non-empty array part becomes a list,
// any other table becomes a map.
func fromLua(lv glua.LValue) value.Value {
	switch v := lv.(type) {
	case *glua.LNilType:
		return value.Null()
	case glua.LBool:
		return value.NewBool(bool(v))
	case glua.LNumber:
		n := float64(v)
		if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) <= float64(math.MaxInt64) {
			return value.NewInt(int64(n))
		}
		return value.NewFloat(n)
	case glua.LString:
		return value.NewString(string(v))
	case *glua.LTable:
		if n := v.MaxN(); n > 0 {
			items := make([]value.Value, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, fromLua(v.RawGetInt(i)))
			}
			return value.NewList(items...)
		}
		m := map[string]value.Value{}
		v.ForEach(func(key, item glua.LValue) {
			m[key.String()] = fromLua(item)
		})
		return value.NewMap(m)
	default:
		return value.NewString(lv.String())
	}
}
