package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/metrics"
	"github.com/ashureev/readiness-wizard/internal/storage"
)

// TabRef identifies one wizard tab of a device.
type TabRef struct {
	DeviceID string
	TabID    string
}

type tabEntry struct {
	provider   *Provider
	store      *storage.MemoryBackend
	lastActive time.Time
}

// Registry tracks the live session of every open wizard tab, together with
// the tab's session-scoped store.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[string]map[string]*tabEntry
	quota  int
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry. quota bounds each tab's session
// store in bytes; zero means unbounded.
func NewRegistry(quota int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tabs:   make(map[string]map[string]*tabEntry),
		quota:  quota,
		now:    timeNow,
		logger: logger,
	}
}

func (r *Registry) entryLocked(deviceID, tabID string) *tabEntry {
	tabs, ok := r.tabs[deviceID]
	if !ok {
		tabs = make(map[string]*tabEntry)
		r.tabs[deviceID] = tabs
	}
	e, ok := tabs[tabID]
	if !ok {
		e = &tabEntry{store: storage.NewMemoryBackend(r.quota), lastActive: r.now()}
		tabs[tabID] = e
	}
	return e
}

// SessionStore returns the tab's session-scoped store, creating it on first
// use. It lives until the tab is removed.
func (r *Registry) SessionStore(deviceID, tabID string) *storage.MemoryBackend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(deviceID, tabID).store
}

// Get returns the tab's provider, or nil.
func (r *Registry) Get(deviceID, tabID string) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tabs, ok := r.tabs[deviceID]; ok {
		if e, ok := tabs[tabID]; ok {
			return e.provider
		}
	}
	return nil
}

// Register installs p as the tab's provider. A provider it replaces is closed.
func (r *Registry) Register(deviceID, tabID string, p *Provider) {
	r.mu.Lock()
	e := r.entryLocked(deviceID, tabID)
	old := e.provider
	e.provider = p
	e.lastActive = r.now()
	r.updateGaugeLocked()
	r.mu.Unlock()

	if old != nil && old != p {
		old.Close()
	}
	r.logger.Info("Wizard session registered", "device_id", deviceID, "tab_id", tabID)
}

// Touch marks the tab as active now.
func (r *Registry) Touch(deviceID, tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tabs, ok := r.tabs[deviceID]; ok {
		if e, ok := tabs[tabID]; ok {
			e.lastActive = r.now()
		}
	}
}

// Remove closes the tab's provider and drops its session store.
func (r *Registry) Remove(deviceID, tabID string) {
	r.mu.Lock()
	var p *Provider
	if tabs, ok := r.tabs[deviceID]; ok {
		if e, ok := tabs[tabID]; ok {
			p = e.provider
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(r.tabs, deviceID)
			}
		}
	}
	r.updateGaugeLocked()
	r.mu.Unlock()

	if p != nil {
		p.Close()
		r.logger.Info("Wizard session removed", "device_id", deviceID, "tab_id", tabID)
	}
}

// CloseDevice removes every tab of a device.
func (r *Registry) CloseDevice(deviceID string) {
	r.mu.Lock()
	tabs := r.tabs[deviceID]
	delete(r.tabs, deviceID)
	r.updateGaugeLocked()
	r.mu.Unlock()

	for tabID, e := range tabs {
		if e.provider != nil {
			e.provider.Close()
		}
		r.logger.Info("Wizard session closed", "device_id", deviceID, "tab_id", tabID)
	}
}

// Idle lists the tabs not touched for at least ttl.
func (r *Registry) Idle(ttl time.Duration) []TabRef {
	cutoff := r.now().Add(-ttl)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TabRef
	for deviceID, tabs := range r.tabs {
		for tabID, e := range tabs {
			if !e.lastActive.After(cutoff) {
				out = append(out, TabRef{DeviceID: deviceID, TabID: tabID})
			}
		}
	}
	return out
}

// Len returns the number of live providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked()
}

func (r *Registry) countLocked() int {
	n := 0
	for _, tabs := range r.tabs {
		for _, e := range tabs {
			if e.provider != nil {
				n++
			}
		}
	}
	return n
}

func (r *Registry) updateGaugeLocked() {
	metrics.ActiveSessions.Set(float64(r.countLocked()))
}

// CloseAll closes every provider, flushing pending saves.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.tabs
	r.tabs = make(map[string]map[string]*tabEntry)
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, tabs := range all {
		for _, e := range tabs {
			if e.provider != nil {
				e.provider.Close()
			}
		}
	}
}
