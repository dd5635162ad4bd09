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
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Ready         bool            `json:"ready"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	Player        PlayerJSON      `json:"player"`
	Controls      []ControlJSON   `json:"controls"`
	Lamps         map[string]bool `json:"lamps"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Config        ConfigJSON      `json:"config"`
}

// PlayerJSON is the JSON representation of the player state.
type PlayerJSON struct {
	Address        string `json:"address"`
	Reachable      bool   `json:"reachable"`
	State          string `json:"state"`
	Volume         int    `json:"volume"`
	Song           int    `json:"song"`
	PlaylistLength int    `json:"playlist_length"`
	CheckedAt      string `json:"checked_at,omitempty"`
}

// ControlJSON is the JSON representation of one control task.
type ControlJSON struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Pins        []int  `json:"pins"`
	Phase       string `json:"phase"`
	LastEvent   string `json:"last_event,omitempty"`
	LastEventAt string `json:"last_event_at,omitempty"`
	Dispatches  int    `json:"dispatches"`
	Errors      int    `json:"errors"`
	LastError   string `json:"last_error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip        string `json:"chip"`
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	SettleMs    int64  `json:"settle_ms"`
	BlinkMs     int64  `json:"blink_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.Player.State
	if state == "" {
		state = "UNKNOWN"
	}
	inner := StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Player: PlayerJSON{
			Address:        snap.Config.PlayerAddr,
			Reachable:      snap.Player.Reachable,
			State:          state,
			Volume:         snap.Player.Volume,
			Song:           snap.Player.Song,
			PlaylistLength: snap.Player.PlaylistLength,
			CheckedAt:      formatTime(snap.Player.CheckedAt),
		},
		Controls: make([]ControlJSON, 0, len(snap.Controls)),
		Lamps:    snap.Lamps,
		MQTT:     MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Chip:        snap.Config.Chip,
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			SettleMs:    snap.Config.SettleMs,
			BlinkMs:     snap.Config.BlinkMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if inner.Lamps == nil {
		inner.Lamps = map[string]bool{}
	}
	for _, c := range snap.Controls {
		pins := c.Pins
		if pins == nil {
			pins = []int{}
		}
		inner.Controls = append(inner.Controls, ControlJSON{
			Name:        c.Name,
			Kind:        c.Kind,
			Pins:        pins,
			Phase:       string(c.Phase),
			LastEvent:   c.LastEvent,
			LastEventAt: formatTime(c.LastEventAt),
			Dispatches:  c.Dispatches,
			Errors:      c.Errors,
			LastError:   c.LastError,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
