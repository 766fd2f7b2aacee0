// Package status provides a thread-safe status tracker for the turret daemon.
// It is designed to be read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs          int64
	HeartbeatMs     int64
	Broker          string
	HTTPPort        string
	GuardPolicy     string
	GuardDistanceCM float64
	TempC           float64
}

// Counts tracks how many events of each kind the control loop has handled.
type Counts struct {
	Commands      int
	Repeats       int
	Fires         int
	Ranges        int
	InvalidRanges int
	DroppedEdges  uint64
}

// LastCommand records the most recent decoded remote command.
type LastCommand struct {
	Button string
	Repeat bool
	At     time.Time
}

// LastRange records the most recent completed range measurement.
type LastRange struct {
	DistanceCM float64
	Valid      bool
	At         time.Time
}

// Targets holds the servo target angles in degrees.
type Targets struct {
	Pan     int
	Tilt    int
	Trigger int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	State         string
	Obstructed    bool
	Targets       Targets
	LastCommand   LastCommand
	LastRange     LastRange
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     "idle",
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the controller state, guard flag, servo targets and counts.
// Called from the run loop on every tick.
func (t *Tracker) Update(state string, obstructed bool, targets Targets, counts Counts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Obstructed = obstructed
	t.snap.Targets = targets
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetLastCommand records a decoded remote command.
func (t *Tracker) SetLastCommand(button string, repeat bool, at time.Time) {
	t.mu.Lock()
	t.snap.LastCommand = LastCommand{Button: button, Repeat: repeat, At: at}
	t.mu.Unlock()
}

// SetLastRange records a completed range measurement.
func (t *Tracker) SetLastRange(distanceCM float64, valid bool, at time.Time) {
	t.mu.Lock()
	t.snap.LastRange = LastRange{DistanceCM: distanceCM, Valid: valid, At: at}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
