package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State is the health of one component
type State string

const (
	StateUp       State = "up"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Overall statuses reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// Components that must be up before the run is ready
var critical = []string{"taper", "dumpers"}

// HealthStatus is the JSON body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type component struct {
	state   State
	message string
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]component
	startTime  time.Time
	version    string
}

var health = newHealthRegistry()

func newHealthRegistry() *healthRegistry {
	return &healthRegistry{
		components: make(map[string]component),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// SetComponent records the state of a component. message explains a
// degraded or down state and is dropped for StateUp.
func SetComponent(name string, state State, message string) {
	if state == StateUp {
		message = ""
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	health.components[name] = component{state: state, message: message}
}

func describe(c component) string {
	if c.message == "" {
		return string(c.state)
	}
	return string(c.state) + ": " + c.message
}

// GetHealth folds the component states: any down component makes the run
// unhealthy, any degraded one makes it degraded.
func GetHealth() HealthStatus {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(health.components))
	for name, c := range health.components {
		components[name] = describe(c)
		switch {
		case c.state == StateDown:
			status = StatusUnhealthy
		case c.state == StateDegraded && status == StatusHealthy:
			status = StatusDegraded
		}
	}
	return health.status(status, "", components)
}

// GetReadiness reports ready once the taper and the dumpers are both known
// and not down
func GetReadiness() HealthStatus {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(critical))
	for _, name := range critical {
		c, ok := health.components[name]
		switch {
		case !ok:
			status, message = StatusNotReady, "waiting for "+name
			components[name] = "unknown"
		case c.state == StateDown:
			status, message = StatusNotReady, name+" down"
			components[name] = describe(c)
		default:
			components[name] = describe(c)
		}
	}
	return health.status(status, message, components)
}

func (h *healthRegistry) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
}

// Mux returns the operator HTTP surface: /metrics, /health, /ready, /live
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", statusHandler(GetHealth, StatusUnhealthy))
	mux.HandleFunc("/ready", statusHandler(GetReadiness, StatusNotReady))
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	return mux
}

// statusHandler answers 503 when get reports failing, 200 otherwise. A
// degraded run still answers 200.
func statusHandler(get func() HealthStatus, failing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := get()
		code := http.StatusOK
		if st.Status == failing {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
