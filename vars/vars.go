// Package vars is the script-visible variable store, string keyed and
// string valued. The Memory store backs tests and throwaway profiles; the
// BuntDB store keeps variables across client restarts.
package vars

import (
	"sort"
	"sync"

	"github.com/tidwall/buntdb"
	"github.com/yaoapp/kun/log"
)

// Store the variable store contract
type Store interface {
	Get(name string) (string, bool)
	Set(name string, val string)
	Delete(name string)
	List() []string
}

// Memory an in-memory store
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory create an in-memory store
func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

// Get a variable
func (m *Memory) Get(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, has := m.data[name]
	return val, has
}

// Set a variable
func (m *Memory) Set(name string, val string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = val
}

// Delete a variable
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
}

// List the variable names, sorted
func (m *Memory) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuntDB a buntdb-backed store. Opening with an empty datafile falls back
// to an in-memory database.
type BuntDB struct {
	db *buntdb.DB
}

// NewBuntDB create a buntdb store
func NewBuntDB(datafile string) (*BuntDB, error) {
	if datafile == "" {
		datafile = ":memory:"
	}
	db, err := buntdb.Open(datafile)
	if err != nil {
		return nil, err
	}
	return &BuntDB{db: db}, nil
}

// Get a variable
func (b *BuntDB) Get(name string) (string, bool) {
	var val string
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(name)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		return "", false
	}
	return val, true
}

// Set a variable
func (b *BuntDB) Set(name string, val string) {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(name, val, nil)
		return err
	})
	if err != nil {
		log.Error("vars buntdb Set %s: %s", name, err.Error())
	}
}

// Delete a variable
func (b *BuntDB) Delete(name string) {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(name)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		log.Error("vars buntdb Delete %s: %s", name, err.Error())
	}
}

// List the variable names, sorted
func (b *BuntDB) List() []string {
	names := []string{}
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			names = append(names, key)
			return true
		})
	})
	if err != nil {
		log.Error("vars buntdb List: %s", err.Error())
	}
	return names
}

// Close the datafile
func (b *BuntDB) Close() error {
	return b.db.Close()
}
