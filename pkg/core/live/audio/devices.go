package audio

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type microphoneFactory func(rate int, logger *slog.Logger) Microphone

var (
	backendsMu sync.RWMutex
	backends   = map[string]microphoneFactory{
		"malgo": func(rate int, logger *slog.Logger) Microphone {
			return &MalgoMicrophone{SampleRate: rate, Logger: logger}
		},
	}
)

// registerMicrophone adds a capture backend. Optional backends register
// themselves from files guarded by build tags.
func registerMicrophone(name string, f microphoneFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the capture backends compiled into this binary.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewMicrophone returns the named capture backend. An empty name is malgo.
func NewMicrophone(backend string, rate int, logger *slog.Logger) (Microphone, error) {
	if backend == "" {
		backend = "malgo"
	}
	backendsMu.RLock()
	f, ok := backends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown microphone backend %q (available: %s)", backend, strings.Join(Backends(), ", "))
	}
	return f(rate, logger), nil
}
