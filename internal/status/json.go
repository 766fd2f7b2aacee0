package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Obstructed    bool         `json:"obstructed"`
	Targets       TargetsJSON  `json:"targets"`
	LastCommand   *CommandJSON `json:"last_command,omitempty"`
	LastRange     *RangeJSON   `json:"last_range,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// TargetsJSON is the JSON representation of the servo targets.
type TargetsJSON struct {
	Pan     int `json:"pan"`
	Tilt    int `json:"tilt"`
	Trigger int `json:"trigger"`
}

// CommandJSON is the JSON representation of the last decoded command.
type CommandJSON struct {
	Button string `json:"button"`
	Repeat bool   `json:"repeat"`
	At     string `json:"at"`
}

// RangeJSON is the JSON representation of the last range measurement.
type RangeJSON struct {
	DistanceCM float64 `json:"distance_cm"`
	Valid      bool    `json:"valid"`
	At         string  `json:"at"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Commands      int    `json:"commands"`
	Repeats       int    `json:"repeats"`
	Fires         int    `json:"fires"`
	Ranges        int    `json:"ranges"`
	InvalidRanges int    `json:"invalid_ranges"`
	DroppedEdges  uint64 `json:"dropped_edges"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs          int64   `json:"poll_ms"`
	HeartbeatMs     int64   `json:"heartbeat_ms"`
	Broker          string  `json:"broker"`
	HTTPPort        string  `json:"http_port"`
	GuardPolicy     string  `json:"guard_policy"`
	GuardDistanceCM float64 `json:"guard_distance_cm"`
	TempC           float64 `json:"temp_c"`
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.State
	if state == "" {
		state = "unknown"
	}

	inner := StatusInner{
		State:      state,
		Obstructed: snap.Obstructed,
		Targets: TargetsJSON{
			Pan:     snap.Targets.Pan,
			Tilt:    snap.Targets.Tilt,
			Trigger: snap.Targets.Trigger,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Commands:      snap.Counts.Commands,
			Repeats:       snap.Counts.Repeats,
			Fires:         snap.Counts.Fires,
			Ranges:        snap.Counts.Ranges,
			InvalidRanges: snap.Counts.InvalidRanges,
			DroppedEdges:  snap.Counts.DroppedEdges,
		},
		Config: ConfigJSON{
			PollMs:          snap.Config.PollMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			HTTPPort:        snap.Config.HTTPPort,
			GuardPolicy:     snap.Config.GuardPolicy,
			GuardDistanceCM: snap.Config.GuardDistanceCM,
			TempC:           snap.Config.TempC,
		},
	}

	if !snap.LastCommand.At.IsZero() {
		inner.LastCommand = &CommandJSON{
			Button: snap.LastCommand.Button,
			Repeat: snap.LastCommand.Repeat,
			At:     snap.LastCommand.At.UTC().Format(time.RFC3339),
		}
	}
	if !snap.LastRange.At.IsZero() {
		inner.LastRange = &RangeJSON{
			DistanceCM: snap.LastRange.DistanceCM,
			Valid:      snap.LastRange.Valid,
			At:         snap.LastRange.At.UTC().Format(time.RFC3339),
		}
	}

	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
