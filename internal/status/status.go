// Package status provides a thread-safe status tracker for the westinghouse
// daemon. It is read by the web handlers and the MQTT heartbeat.
package status

import (
	"sort"
	"sync"
	"time"
)

// Phase is the lifecycle position of one control task.
type Phase string

const (
	PhaseStarting    Phase = "STARTING"
	PhasePolling     Phase = "POLLING"
	PhaseDispatching Phase = "DISPATCHING"
	PhaseStopped     Phase = "STOPPED"
)

// Control is the observed state of one control task.
type Control struct {
	Name        string
	Kind        string
	Pins        []int
	Phase       Phase
	LastEvent   string
	LastEventAt time.Time
	Dispatches  int
	Errors      int
	LastError   string
}

// Player is the last known player state.
type Player struct {
	Reachable      bool
	State          string
	Volume         int
	Song           int
	PlaylistLength int
	CheckedAt      time.Time
}

// Config contains daemon configuration for display.
type Config struct {
	PlayerAddr  string
	Chip        string
	PollMs      int64
	DebounceMs  int64
	SettleMs    int64
	BlinkMs     int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	Controls      []Control
	Lamps         map[string]bool
	Player        Player
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Control returns the named control and whether it exists.
func (s Snapshot) Control(name string) (Control, bool) {
	for _, c := range s.Controls {
		if c.Name == name {
			return c, true
		}
	}
	return Control{}, false
}

// Ready reports whether every control has left STARTING and none stopped.
func (s Snapshot) Ready() bool {
	if len(s.Controls) == 0 {
		return false
	}
	for _, c := range s.Controls {
		if c.Phase == PhaseStarting || c.Phase == PhaseStopped || c.Phase == "" {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	start    time.Time
	cfg      Config
	controls map[string]*Control
	lamps    map[string]bool
	player   Player
	mqtt     bool
	changed  chan struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		start:    startTime,
		cfg:      cfg,
		controls: make(map[string]*Control),
		lamps:    make(map[string]bool),
		changed:  make(chan struct{}),
	}
}

// Changed returns a channel that is closed on the next update.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// notifyLocked wakes Changed waiters. Caller holds the write lock.
func (t *Tracker) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Register adds a control in the STARTING phase.
func (t *Tracker) Register(name, kind string, pins ...int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := make([]int, len(pins))
	copy(p, pins)
	t.controls[name] = &Control{Name: name, Kind: kind, Pins: p, Phase: PhaseStarting}
	t.notifyLocked()
}

func (t *Tracker) control(name string) *Control {
	c, ok := t.controls[name]
	if !ok {
		c = &Control{Name: name}
		t.controls[name] = c
	}
	return c
}

// SetPhase records a control's phase.
func (t *Tracker) SetPhase(name string, p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.control(name).Phase = p
	t.notifyLocked()
}

// RecordEvent records the most recent event seen by a control.
func (t *Tracker) RecordEvent(name, event string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.control(name)
	c.LastEvent = event
	c.LastEventAt = at
	t.notifyLocked()
}

// RecordDispatch counts one dispatch. A non-nil err also counts an error.
func (t *Tracker) RecordDispatch(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.control(name)
	c.Dispatches++
	if err != nil {
		c.Errors++
		c.LastError = err.Error()
	}
	t.notifyLocked()
}

// RecordError counts an error outside a dispatch.
func (t *Tracker) RecordError(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.control(name)
	c.Errors++
	c.LastError = err.Error()
	t.notifyLocked()
}

// SetLamp records a lamp's logical state.
func (t *Tracker) SetLamp(name string, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.lamps[name]; ok && prev == on {
		return
	}
	t.lamps[name] = on
	t.notifyLocked()
}

// SetPlayer records the last player status check.
func (t *Tracker) SetPlayer(p Player) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.player = p
	t.notifyLocked()
}

// SetReachable records a liveness check without touching the last known
// playback state. An unreachable player has no known state.
func (t *Tracker) SetReachable(ok bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.player.Reachable = ok
	t.player.CheckedAt = at
	if !ok {
		t.player.State = ""
	}
	t.notifyLocked()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mqtt == connected {
		return
	}
	t.mqtt = connected
	t.notifyLocked()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.start,
		Config:        t.cfg,
		Player:        t.player,
		MQTTConnected: t.mqtt,
		Lamps:         make(map[string]bool, len(t.lamps)),
		Controls:      make([]Control, 0, len(t.controls)),
	}
	for k, v := range t.lamps {
		s.Lamps[k] = v
	}
	for _, c := range t.controls {
		cp := *c
		cp.Pins = append([]int(nil), c.Pins...)
		s.Controls = append(s.Controls, cp)
	}
	t.mu.RUnlock()

	sort.Slice(s.Controls, func(i, j int) bool { return s.Controls[i].Name < s.Controls[j].Name })
	s.Now = time.Now()
	return s
}
