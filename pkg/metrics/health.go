package metrics

import (
	"sync"
	"time"
)

// CriticalComponents must have reported healthy for the API to be ready
var CriticalComponents = []string{"api", "registry"}

type componentState struct {
	healthy bool
	message string
	updated time.Time
}

// components holds the last report of every component in this process
var components = struct {
	sync.RWMutex
	byName map[string]componentState
}{byName: make(map[string]componentState)}

// UpdateComponent records a component's state. message explains an
// unhealthy state and is ignored otherwise.
func UpdateComponent(name string, healthy bool, message string) {
	components.Lock()
	components.byName[name] = componentState{healthy: healthy, message: message, updated: time.Now()}
	components.Unlock()

	up := 0.0
	if healthy {
		up = 1
	}
	ComponentUp.WithLabelValues(name).Set(up)
}

// Readiness is the outcome of GetReadiness
type Readiness struct {
	Ready bool

	// Components describes every critical component: "ready",
	// "not ready: <message>" or "not reported"
	Components map[string]string

	// Message names the first component holding readiness back
	Message string
}

// GetReadiness checks the critical components
func GetReadiness() Readiness {
	components.RLock()
	defer components.RUnlock()

	r := Readiness{Ready: true, Components: make(map[string]string, len(CriticalComponents))}
	for _, name := range CriticalComponents {
		state, ok := components.byName[name]
		switch {
		case !ok:
			r.Components[name] = "not reported"
		case !state.healthy:
			r.Components[name] = "not ready: " + state.message
		default:
			r.Components[name] = "ready"
			continue
		}
		if r.Ready {
			r.Ready = false
			r.Message = "waiting for " + name
		}
	}
	return r
}
