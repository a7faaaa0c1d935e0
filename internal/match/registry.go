package match

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Strategy assigns pooled faces to students.
type Strategy interface {
	// Name returns the registry key of the strategy
	Name() string
	// Match resolves faces to students. It must not retain its inputs.
	Match(faces []Face, students []Student, th Thresholds) Outcome
}

// ErrUnknownStrategy is returned by Get for names that were never registered.
var ErrUnknownStrategy = errors.New("unknown match strategy")

// Default is the canonical strategy name.
const Default = "student-centric"

var (
	registryMu sync.RWMutex
	registry   = map[string]Strategy{}
)

func init() {
	Register(StudentCentric{})
	Register(FaceCentric{})
	Register(FaceCentricMargin{})
}

// Register adds a strategy under its name, replacing any previous one.
func Register(s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Name()] = s
}

// Get returns the strategy registered under name; empty means Default.
func Get(name string) (Strategy, error) {
	if name == "" {
		name = Default
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names returns the registered strategy names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
