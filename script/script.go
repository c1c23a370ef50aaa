// Package script hosts the loaded scripts: engine registration, script
// lifecycle, and event dispatch. All mutation and dispatch funnels
// through one manager lock, so engines never see concurrent calls.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yaoapp/kun/exception"
	"github.com/yaoapp/kun/log"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/value"
)

// DisabledSuffix marks a script file as present but not loaded
const DisabledSuffix = ".disabled"

// Script one managed script. The record survives load failures and
// disable toggles; only the id is stable across reloads.
type Script struct {
	ID        string
	Name      string
	Path      string
	Engine    string
	Enabled   bool
	LoadError error

	handle engine.Handle
	eng    engine.Engine
}

// Manager the script host
type Manager struct {
	mu      sync.Mutex
	api     engine.API
	engines []engine.Engine
	byExt   map[string]engine.Engine
	scripts map[string]*Script
	order   []string
}

// NewManager create a manager over the host API
func NewManager(api engine.API) *Manager {
	return &Manager{
		api:     api,
		byExt:   map[string]engine.Engine{},
		scripts: map[string]*Script{},
		order:   []string{},
	}
}

// RegisterEngine adopt an engine if its runtime is available. An engine
// whose interpreter is missing is skipped with a log line, never an error.
func (m *Manager) RegisterEngine(eng engine.Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !eng.IsAvailable() {
		log.With(log.F{"engine": eng.Name()}).Info("engine unavailable, skipped")
		return nil
	}
	if err := eng.Initialize(m.api); err != nil {
		return fmt.Errorf("initialize %s engine: %w", eng.Name(), err)
	}

	m.engines = append(m.engines, eng)
	for _, ext := range eng.Extensions() {
		m.byExt[strings.ToLower(ext)] = eng
	}
	return nil
}

// Engines the names of the registered engines
func (m *Manager) Engines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.engines))
	for _, eng := range m.engines {
		names = append(names, eng.Name())
	}
	return names
}

// Load read and load one script file. A load failure is recorded on the
// script, which stays listed but is skipped by dispatch; the error also
// comes back to the caller.
func (m *Manager) Load(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(path)
}

func (m *Manager) load(path string) (string, error) {
	name := filepath.Base(path)
	disabled := strings.HasSuffix(name, DisabledSuffix)
	if disabled {
		name = strings.TrimSuffix(name, DisabledSuffix)
	}

	eng, has := m.byExt[strings.ToLower(filepath.Ext(name))]
	if !has {
		return "", fmt.Errorf("no engine for %s", name)
	}

	sc := &Script{
		ID:      uuid.NewString(),
		Name:    name,
		Path:    path,
		Engine:  eng.Name(),
		Enabled: !disabled,
		eng:     eng,
	}
	m.scripts[sc.ID] = sc
	m.order = append(m.order, sc.ID)

	if disabled {
		return sc.ID, nil
	}
	if err := m.start(sc); err != nil {
		return sc.ID, err
	}
	return sc.ID, nil
}

// start read the source, load it into the engine and run on_load
func (m *Manager) start(sc *Script) error {
	source, err := os.ReadFile(sc.Path)
	if err != nil {
		sc.LoadError = err
		return err
	}

	handle, err := sc.eng.LoadScript(sc.ID, sc.Path, source)
	if err != nil {
		sc.LoadError = err
		log.With(log.F{"script": sc.Name, "engine": sc.Engine}).Error("load: %s", err.Error())
		return err
	}

	sc.handle = handle
	sc.LoadError = nil
	m.call(sc, EventLoad)
	return nil
}

// stop run on_unload and release the engine-side scope
func (m *Manager) stop(sc *Script) {
	if sc.handle == nil {
		return
	}
	m.call(sc, EventUnload)
	if err := sc.eng.UnloadScript(sc.handle); err != nil {
		log.With(log.F{"script": sc.Name}).Error("unload: %s", err.Error())
	}
	sc.handle = nil
}

// LoadDirectory load every script file in the directory in name order.
// Files with no registered engine are ignored; disabled files are listed
// without loading.
func (m *Manager) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		bare := strings.TrimSuffix(name, DisabledSuffix)
		if _, has := m.byExt[strings.ToLower(filepath.Ext(bare))]; !has {
			continue
		}
		// a failed load is recorded on the script, the rest of the
		// directory still loads
		m.load(filepath.Join(dir, name))
	}
	return nil
}

// Unload remove a script entirely
func (m *Manager) Unload(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, has := m.scripts[id]
	if !has {
		return
	}
	m.stop(sc)
	delete(m.scripts, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Reload unload and load the script again from disk, keeping its id and
// position in the load order
func (m *Manager) Reload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, has := m.scripts[id]
	if !has {
		return fmt.Errorf("script %s not found", id)
	}
	m.stop(sc)
	if !sc.Enabled {
		return nil
	}
	return m.start(sc)
}

// Enable turn a disabled script back on: the marker suffix comes off the
// file and the source loads fresh
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, has := m.scripts[id]
	if !has {
		return fmt.Errorf("script %s not found", id)
	}
	if sc.Enabled {
		return nil
	}

	if strings.HasSuffix(sc.Path, DisabledSuffix) {
		bare := strings.TrimSuffix(sc.Path, DisabledSuffix)
		if err := os.Rename(sc.Path, bare); err == nil {
			sc.Path = bare
		}
	}
	sc.Enabled = true
	return m.start(sc)
}

// Disable unload a script but keep its record; the file gets the marker
// suffix so the next directory scan skips it too
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, has := m.scripts[id]
	if !has {
		return fmt.Errorf("script %s not found", id)
	}
	if !sc.Enabled {
		return nil
	}

	m.stop(sc)
	sc.Enabled = false
	sc.LoadError = nil

	if !strings.HasSuffix(sc.Path, DisabledSuffix) {
		marked := sc.Path + DisabledSuffix
		if err := os.Rename(sc.Path, marked); err == nil {
			sc.Path = marked
		}
	}
	return nil
}

// Scripts a snapshot of the script records in load order
func (m *Manager) Scripts() []Script {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Script, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.scripts[id])
	}
	return out
}

// Find the script loaded from the given path, with or without the
// disabled marker
func (m *Manager) Find(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		sc := m.scripts[id]
		if sc.Path == path || sc.Path == path+DisabledSuffix ||
			sc.Path+DisabledSuffix == path {
			return id, true
		}
	}
	return "", false
}

// Dispatch run a due timer callback under the manager lock. Timer
// goroutines must never touch a script runtime while an event pass is in
// flight; funneling through here serializes them with FireEvent.
func (m *Manager) Dispatch(cb engine.Invocable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if err := exception.Catch(recover()); err != nil {
			log.Error("timer dispatch: %s", err.Error())
		}
	}()

	if _, err := cb.Invoke(); err != nil {
		log.Error("timer callback: %s", err.Error())
	}
}

// FireEvent call the hook in every enabled, cleanly loaded script in load
// order. A script that fails the hook is logged and skipped; the rest of
// the pass continues.
func (m *Manager) FireEvent(event string, args ...value.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		sc := m.scripts[id]
		if !sc.Enabled || sc.LoadError != nil || sc.handle == nil {
			continue
		}
		m.call(sc, event, args...)
	}
}

// call one hook on one script, panics contained
func (m *Manager) call(sc *Script, event string, args ...value.Value) {
	defer func() {
		if err := exception.Catch(recover()); err != nil {
			log.With(log.F{"script": sc.Name, "event": event}).Error("dispatch: %s", err.Error())
		}
	}()

	if _, err := sc.eng.CallFunction(sc.handle, event, args...); err != nil {
		log.With(log.F{"script": sc.Name, "event": event}).Error("%s", err.Error())
	}
}

// Shutdown unload everything and stop the engines
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		m.stop(m.scripts[m.order[i]])
	}
	m.scripts = map[string]*Script{}
	m.order = []string{}

	for _, eng := range m.engines {
		if err := eng.Shutdown(); err != nil {
			log.With(log.F{"engine": eng.Name()}).Error("shutdown: %s", err.Error())
		}
	}
}
