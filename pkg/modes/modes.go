// Package modes defines the operating-mode collaborator consulted by the
// dispatcher and the context compressor. A mode is a named profile (such as
// "design" or "testing") that scales budgets and content priorities.
package modes

import "sync"

// Strategy carries the content-priority weights for one mode.
type Strategy struct {
	Priorities map[string]float64 `json:"priorities"`
}

// Manager is the interface the server consults for contextual execution.
type Manager interface {
	CurrentMode() string
	ContentStrategy(mode string) Strategy
}

// StaticManager is a Manager with fixed built-in profiles and a switchable
// current mode. It is the default wiring for the CLI and tests.
type StaticManager struct {
	mu         sync.RWMutex
	current    string
	strategies map[string]Strategy
}

// NewStaticManager returns a manager starting in "engineering" mode with
// the stock design/engineering/testing profiles.
func NewStaticManager() *StaticManager {
	return &StaticManager{
		current: "engineering",
		strategies: map[string]Strategy{
			"design": {Priorities: map[string]float64{
				"architecture":  0.9,
				"interfaces":    0.8,
				"documentation": 0.7,
				"tests":         0.4,
			}},
			"engineering": {Priorities: map[string]float64{
				"implementation": 0.9,
				"interfaces":     0.7,
				"tests":          0.6,
				"documentation":  0.4,
			}},
			"testing": {Priorities: map[string]float64{
				"tests":          0.9,
				"implementation": 0.7,
				"fixtures":       0.6,
				"documentation":  0.3,
			}},
		},
	}
}

func (m *StaticManager) CurrentMode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetMode switches the active mode. Unknown names are accepted; they simply
// resolve to an empty strategy.
func (m *StaticManager) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = mode
}

func (m *StaticManager) ContentStrategy(mode string) Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.strategies[mode]; ok {
		return s
	}
	return Strategy{Priorities: map[string]float64{}}
}
