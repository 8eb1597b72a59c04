package features

import (
	"sort"
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// NewDefaultManager registers the service flags with the given initial states.
func NewDefaultManager(states map[string]bool) *Manager {
	m := NewManager()
	for _, d := range Defaults {
		enabled := d.Enabled
		if v, ok := states[d.Name]; ok {
			enabled = v
		}
		m.Register(d.Name, enabled, d.Description)
	}
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
// A nil manager reports every flag disabled.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.set(name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.set(name, false)
}

func (m *Manager) set(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
	}
}

// GetAll returns a copy of all feature flags sorted by name.
func (m *Manager) GetAll() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Predefined feature flag names
const (
	// FeatureCacheEnabled enables/disables caching of dashboard stats
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled enables/disables lifecycle event publishing
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureWhatsAppNotifications sends a WhatsApp message when an opportunity is accepted
	FeatureWhatsAppNotifications = "whatsapp_notifications"
	// FeatureBestSoFarPolicy keeps the cheapest opportunity instead of the latest one
	FeatureBestSoFarPolicy = "best_so_far_policy"
)

// Defaults lists the flags registered at startup and their default states.
var Defaults = []FeatureFlag{
	{Name: FeatureCacheEnabled, Enabled: true, Description: "Cache per-owner dashboard stats"},
	{Name: FeatureEventHooksEnabled, Enabled: true, Description: "Publish alert lifecycle events"},
	{Name: FeatureWhatsAppNotifications, Enabled: true, Description: "Notify owners over WhatsApp on accepted opportunities"},
	{Name: FeatureBestSoFarPolicy, Enabled: false, Description: "Replace the last opportunity only with a cheaper one"},
}
