package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	saved := health
	health = newHealthRegistry()
	t.Cleanup(func() { health = saved })
}

func running() Snapshot {
	return Snapshot{
		Dumpers: map[string]int{"idle": 2, "busy": 2, "down": 0},
		TaperUp: true,
	}
}

func TestComponentStates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Snapshot)
		health string
		ready  string
		want   map[string]string
	}{
		{
			name:   "all up",
			modify: func(*Snapshot) {},
			health: StatusHealthy,
			ready:  StatusReady,
			want:   map[string]string{"taper": "up", "dumpers": "up", "run": "up"},
		},
		{
			name:   "degraded mode",
			modify: func(s *Snapshot) { s.Degraded = true },
			health: StatusDegraded,
			ready:  StatusReady,
			want:   map[string]string{"run": "degraded: holding disks disabled, dumping directly to tape"},
		},
		{
			name:   "taper restarting",
			modify: func(s *Snapshot) { s.TaperRestarting = true },
			health: StatusDegraded,
			ready:  StatusReady,
			want:   map[string]string{"taper": "degraded: taper restarting"},
		},
		{
			name:   "some dumpers down",
			modify: func(s *Snapshot) { s.Dumpers["down"] = 1 },
			health: StatusDegraded,
			ready:  StatusReady,
			want:   map[string]string{"dumpers": "degraded: 1 of 5 dumpers down"},
		},
		{
			name:   "taper down",
			modify: func(s *Snapshot) { s.TaperUp = false; s.TaperRestarting = true },
			health: StatusUnhealthy,
			ready:  StatusNotReady,
			want:   map[string]string{"taper": "down: taper down"},
		},
		{
			name: "every dumper down",
			modify: func(s *Snapshot) {
				s.Dumpers = map[string]int{"idle": 0, "busy": 0, "down": 4}
				s.Degraded = true
			},
			health: StatusUnhealthy,
			ready:  StatusNotReady,
			want:   map[string]string{"dumpers": "down: no dumper left"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			snap := running()
			tt.modify(&snap)
			Collect(snap)

			h := GetHealth()
			assert.Equal(t, tt.health, h.Status)
			for name, want := range tt.want {
				assert.Equal(t, want, h.Components[name], name)
			}
			assert.Equal(t, tt.ready, GetReadiness().Status)
		})
	}
}

func TestSetComponentDropsMessageWhenUp(t *testing.T) {
	resetHealth(t)

	SetComponent("taper", StateDegraded, "taper restarting")
	assert.Equal(t, "degraded: taper restarting", GetHealth().Components["taper"])

	SetComponent("taper", StateUp, "taper restarting")
	assert.Equal(t, "up", GetHealth().Components["taper"])
}

func TestReadinessWaitsForCriticalComponents(t *testing.T) {
	resetHealth(t)
	SetVersion("1.2.3")

	SetComponent("dumpers", StateUp, "")
	r := GetReadiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, "waiting for taper", r.Message)
	assert.Equal(t, "unknown", r.Components["taper"])
	assert.Equal(t, "1.2.3", r.Version)

	SetComponent("taper", StateDegraded, "taper restarting")
	assert.Equal(t, StatusReady, GetReadiness().Status, "a restarting taper is still usable")
}

func TestMux(t *testing.T) {
	resetHealth(t)

	srv := httptest.NewServer(Mux())
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	// nothing reported yet
	code, _ := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	snap := running()
	snap.Degraded = true
	Collect(snap)

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code, "degraded still answers 200")
	assert.Equal(t, StatusDegraded, body["status"])

	code, _ = get("/ready")
	assert.Equal(t, http.StatusOK, code)

	code, body = get("/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	snap.TaperUp = false
	Collect(snap)
	code, body = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, body["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
