package script

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/yaoapp/kun/log"
)

// Watch reload scripts when their files change on disk. Editors write in
// bursts, so events are debounced per path before the manager is touched.
// Returns a stop function.
func (m *Manager) Watch(dir string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go m.watchLoop(watcher, done)

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
			watcher.Close()
		}
	}, nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	pending := map[string]*time.Timer{}

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.watched(event.Name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				if id, has := m.Find(event.Name); has {
					log.With(log.F{"path": event.Name}).Info("script file removed")
					m.Unload(id)
				}

			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				path := event.Name
				if timer, has := pending[path]; has {
					timer.Stop()
				}
				pending[path] = time.AfterFunc(200*time.Millisecond, func() {
					m.apply(path)
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("script watcher: %s", err.Error())
		}
	}
}

// apply one settled filesystem change: reload a known script, load a new one
func (m *Manager) apply(path string) {
	if id, has := m.Find(path); has {
		log.With(log.F{"path": path}).Info("script file changed, reloading")
		m.Reload(id)
		return
	}
	log.With(log.F{"path": path}).Info("new script file, loading")
	m.Load(path)
}

// watched whether the path belongs to a registered engine
func (m *Manager) watched(path string) bool {
	bare := strings.TrimSuffix(path, DisabledSuffix)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, has := m.byExt[strings.ToLower(filepath.Ext(bare))]
	return has
}
