// Package js embeds JavaScript on V8. One isolate serves every script;
// each script gets its own context, so script globals never leak between
// scripts even though they share the glue layer. TypeScript sources are
// lowered with esbuild before evaluation.
package js

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/yaoapp/kun/log"
	"rogchap.com/v8go"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/engine/js/bridge"
	"github.com/bylins/mudscript/value"
)

//go:embed glue.js
var glueSource string

// Engine the V8 adapter
type Engine struct {
	mu       sync.Mutex
	iso      *v8go.Isolate
	template *v8go.ObjectTemplate
	api      engine.API
	contexts map[string]*v8go.Context
}

type handle struct {
	id  string
	ctx *v8go.Context
}

func (h *handle) ScriptID() string { return h.id }

// New create the engine
func New() *Engine {
	return &Engine{contexts: map[string]*v8go.Context{}}
}

// Name the engine name
func (e *Engine) Name() string { return "javascript" }

// Extensions the claimed script extensions
func (e *Engine) Extensions() []string { return []string{".js", ".ts"} }

// IsAvailable reports whether a V8 isolate can be created at all
func (e *Engine) IsAvailable() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	iso := v8go.NewIsolate()
	iso.Dispose()
	return true
}

// Initialize keep the host API and build the native api template. Safe to
// call more than once.
func (e *Engine) Initialize(api engine.API) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.api = api
	if e.iso != nil {
		return nil
	}

	e.iso = v8go.NewIsolate()
	e.template = e.exportAPI(e.iso)
	return nil
}

// LoadScript evaluate the source in a fresh context. The returned error
// carries V8's own message and source location.
func (e *Engine) LoadScript(id string, path string, source []byte) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.iso == nil {
		return nil, fmt.Errorf("javascript engine is not initialized")
	}

	code := string(source)
	if strings.HasSuffix(path, ".ts") {
		lowered, err := transformTS(code)
		if err != nil {
			return nil, err
		}
		code = lowered
	}

	ctx := v8go.NewContext(e.iso)
	instance, err := e.template.NewInstance(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if err := ctx.Global().Set("api", instance); err != nil {
		ctx.Close()
		return nil, err
	}
	if _, err := ctx.RunScript(glueSource, "glue.js"); err != nil {
		ctx.Close()
		return nil, err
	}

	if _, err := ctx.RunScript(code, path); err != nil {
		ctx.Close()
		if jsErr, ok := err.(*v8go.JSError); ok && jsErr.Location != "" {
			return nil, fmt.Errorf("%s (%s)", jsErr.Message, jsErr.Location)
		}
		return nil, err
	}

	e.contexts[id] = ctx
	return &handle{id: id, ctx: ctx}, nil
}

// CallFunction invoke a top-level function of the script. A missing or
// non-function name is a silent no-op.
func (e *Engine) CallFunction(h engine.Handle, name string, args ...value.Value) (value.Value, error) {
	hd, ok := h.(*handle)
	if !ok || hd.ctx == nil {
		return value.Null(), fmt.Errorf("javascript: bad script handle")
	}

	global := hd.ctx.Global()
	fn, err := global.Get(name)
	if err != nil || fn == nil || !fn.IsFunction() {
		return value.Null(), nil
	}

	jsArgs, err := bridge.JsValues(hd.ctx, args)
	if err != nil {
		return value.Null(), fmt.Errorf("%s.%s %s", hd.id, name, err.Error())
	}
	defer bridge.FreeJsValues(jsArgs)

	jsRes, err := global.MethodCall(name, bridge.Valuers(jsArgs)...)
	if err != nil {
		return value.Null(), fmt.Errorf("%s.%s %s", hd.id, name, err.Error())
	}

	return bridge.GoValue(jsRes), nil
}

// UnloadScript close the script's context
func (e *Engine) UnloadScript(h engine.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx, has := e.contexts[hd.id]; has && ctx == hd.ctx {
		delete(e.contexts, hd.id)
	}
	if hd.ctx != nil {
		hd.ctx.Close()
		hd.ctx = nil
	}
	return nil
}

// Shutdown release every context and the isolate
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ctx := range e.contexts {
		ctx.Close()
		delete(e.contexts, id)
	}
	if e.iso != nil {
		e.iso.Dispose()
		e.iso = nil
		e.template = nil
	}
	return nil
}

// transformTS lower typescript with esbuild
func transformTS(source string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader: esbuild.LoaderTS,
		Target: esbuild.ESNext,
	})
	if len(result.Errors) > 0 {
		messages := []string{}
		for _, err := range result.Errors {
			messages = append(messages, err.Text)
		}
		return "", fmt.Errorf("transform ts code error: %v", strings.Join(messages, "\n"))
	}
	return string(result.Code), nil
}

// callback a JS callable captured for triggers and timers. A function
// argument is retained directly; a string argument is resolved as a global
// function name at fire time, so both registration shapes work.
type callback struct {
	ctx  *v8go.Context
	fn   *v8go.Function
	name string
}

// Invoke marshal the arguments and call the JS side
func (cb *callback) Invoke(args ...value.Value) (value.Value, error) {
	jsArgs, err := bridge.JsValues(cb.ctx, args)
	if err != nil {
		return value.Null(), err
	}
	defer bridge.FreeJsValues(jsArgs)

	if cb.fn != nil {
		jsRes, err := cb.fn.Call(v8go.Undefined(cb.ctx.Isolate()), bridge.Valuers(jsArgs)...)
		if err != nil {
			return value.Null(), err
		}
		return bridge.GoValue(jsRes), nil
	}

	jsRes, err := cb.ctx.Global().MethodCall(cb.name, bridge.Valuers(jsArgs)...)
	if err != nil {
		return value.Null(), err
	}
	return bridge.GoValue(jsRes), nil
}

// newCallback checks the argument for the runtime's callable shapes
func newCallback(ctx *v8go.Context, arg *v8go.Value) (engine.Invocable, error) {
	if arg == nil {
		return nil, fmt.Errorf("callback is missing")
	}
	if arg.IsFunction() {
		fn, err := arg.AsFunction()
		if err != nil {
			return nil, err
		}
		return &callback{ctx: ctx, fn: fn}, nil
	}
	if arg.IsString() {
		return &callback{ctx: ctx, name: arg.String()}, nil
	}
	return nil, fmt.Errorf("callback must be a function or a function name")
}

// exportAPI build the native api object template
func (e *Engine) exportAPI(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)

	tmpl.Set("send", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.Send(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("echo", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.Echo(argString(info, 0), argString(info, 1))
		return v8go.Null(iso)
	}))

	tmpl.Set("log", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.Log(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("getVariable", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		val, has := e.api.GetVar(argString(info, 0))
		if !has {
			return v8go.Null(iso)
		}
		jsValue, err := v8go.NewValue(iso, val)
		if err != nil {
			return v8go.Null(iso)
		}
		return jsValue
	}))

	tmpl.Set("setVariable", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.SetVar(argString(info, 0), argString(info, 1))
		return v8go.Null(iso)
	}))

	tmpl.Set("deleteVariable", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.DeleteVar(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("listVariables", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		names := e.api.ListVars()
		items := make([]value.Value, 0, len(names))
		for _, name := range names {
			items = append(items, value.NewString(name))
		}
		return e.toJS(info, value.NewList(items...))
	}))

	tmpl.Set("addTrigger", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) < 2 {
			return bridge.JsException(info.Context(), "addTrigger: pattern and callback are required")
		}
		cb, err := newCallback(info.Context(), args[1])
		if err != nil {
			return bridge.JsException(info.Context(), "addTrigger: "+err.Error())
		}
		priority := 0
		if len(args) > 2 && args[2].IsNumber() {
			priority = int(args[2].Int32())
		}
		id, err := e.api.AddTrigger(args[0].String(), priority, cb)
		if err != nil {
			return bridge.JsException(info.Context(), "addTrigger: "+err.Error())
		}
		return e.toJS(info, value.NewString(id))
	}))

	tmpl.Set("addAlias", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		id, err := e.api.AddAlias(argString(info, 0), argString(info, 1))
		if err != nil {
			return bridge.JsException(info.Context(), "addAlias: "+err.Error())
		}
		return e.toJS(info, value.NewString(id))
	}))

	tmpl.Set("removeTrigger", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.RemoveTrigger(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("removeAlias", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.RemoveAlias(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("enableTrigger", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.EnableTrigger(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("disableTrigger", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.DisableTrigger(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("setTimeout", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) < 2 {
			return bridge.JsException(info.Context(), "setTimeout: callback and delay are required")
		}
		cb, err := newCallback(info.Context(), args[0])
		if err != nil {
			return bridge.JsException(info.Context(), "setTimeout: "+err.Error())
		}
		return e.toJS(info, value.NewString(e.api.SetTimeout(int64(args[1].Number()), cb)))
	}))

	tmpl.Set("setInterval", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) < 2 {
			return bridge.JsException(info.Context(), "setInterval: callback and interval are required")
		}
		cb, err := newCallback(info.Context(), args[0])
		if err != nil {
			return bridge.JsException(info.Context(), "setInterval: "+err.Error())
		}
		return e.toJS(info, value.NewString(e.api.SetInterval(int64(args[1].Number()), cb)))
	}))

	tmpl.Set("clearTimer", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.ClearTimer(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("getMsdpValue", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		return e.toJS(info, e.api.GetMSDPValue(argString(info, 0)))
	}))

	tmpl.Set("getAllMsdpData", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		return e.toJS(info, e.api.AllMSDPData())
	}))

	tmpl.Set("getGmcpValue", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		return e.toJS(info, e.api.GetGMCPValue(argString(info, 0)))
	}))

	tmpl.Set("getCurrentRoom", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		return e.toJS(info, e.api.CurrentRoom())
	}))

	tmpl.Set("searchRooms", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		return e.toJS(info, e.api.SearchRooms(argString(info, 0)))
	}))

	tmpl.Set("createRoom", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		data := value.Null()
		if len(args) > 0 {
			data = bridge.GoValue(args[0])
		}
		return e.toJS(info, e.api.CreateRoom(data))
	}))

	tmpl.Set("handleMovement", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.HandleMovement(argString(info, 0))
		return v8go.Null(iso)
	}))

	tmpl.Set("setRoomZone", e.fn(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		e.api.SetRoomZone(argString(info, 0), argString(info, 1))
		return v8go.Null(iso)
	}))

	return tmpl
}

// fn wrap a callback into a function template, guarding against an
// uninitialized host
func (e *Engine) fn(iso *v8go.Isolate, cb func(info *v8go.FunctionCallbackInfo) *v8go.Value) *v8go.FunctionTemplate {
	return v8go.NewFunctionTemplate(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		if e.api == nil {
			log.Error("javascript api call before initialization")
			return v8go.Null(iso)
		}
		return cb(info)
	})
}

// toJS marshal a canonical value into the calling context
func (e *Engine) toJS(info *v8go.FunctionCallbackInfo, v value.Value) *v8go.Value {
	jsValue, err := bridge.JsValue(info.Context(), v)
	if err != nil {
		log.Error("javascript marshal: %s", err.Error())
		return v8go.Null(info.Context().Isolate())
	}
	return jsValue
}

// argString the n-th argument as a string, empty when absent
func argString(info *v8go.FunctionCallbackInfo, n int) string {
	args := info.Args()
	if n >= len(args) || args[n].IsNullOrUndefined() {
		return ""
	}
	return args[n].String()
}
