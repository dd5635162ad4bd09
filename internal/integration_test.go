package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/mqtt"
)

// sample is one poll of a button and an encoder.
type sample struct {
	button bool
	a, b   bool
}

// loop simulates the daemon's polling loop with pure logic: a 20ms button
// debouncer and a 0..100 volume decoder, publishing what they report.
func loop(t *testing.T, samples []sample, pub *mqtt.FakePublisher) {
	t.Helper()
	startTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	button := logic.NewDebouncer(20 * time.Millisecond)
	volume := logic.NewQuadrature(0, &logic.Bounds{Min: 0, Max: 100})

	for i, s := range samples {
		now := startTime.Add(time.Duration(i) * 10 * time.Millisecond)

		// Pulled up: low means pressed.
		if stable, changed := button.Update(s.button, now); changed && !stable {
			ev := logic.Event{Timestamp: now, Control: "play-pause", Kind: logic.EventPress}
			if err := pub.Publish(ev); err != nil {
				t.Fatalf("sample %d: publish error: %v", i, err)
			}
		}
		if dir := volume.Update(s.a, s.b); dir != logic.None {
			ev := logic.Event{Timestamp: now, Control: "volume", Kind: logic.EventStep, Direction: dir, Value: volume.Counter()}
			if err := pub.Publish(ev); err != nil {
				t.Fatalf("sample %d: publish error: %v", i, err)
			}
		}
	}
}

func decode(t *testing.T, payload []byte) mqtt.ControlPayload {
	t.Helper()
	var parsed mqtt.Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON %s: %v", payload, err)
	}
	return parsed.Control
}

// TestIntegrationFullFlow follows a bouncy press and a few encoder detents
// through to MQTT payloads.
func TestIntegrationFullFlow(t *testing.T) {
	samples := []sample{
		{button: true, a: true, b: true},    // t=0 baseline, decoder primed
		{button: false, a: true, b: true},   // t=10 candidate
		{button: true, a: false, b: true},   // t=20 bounce; step forward
		{button: false, a: false, b: true},  // t=30 candidate again
		{button: false, a: true, b: false},  // t=40 step forward
		{button: false, a: true, b: false},  // t=50 press confirmed
		{button: false, a: false, b: false}, // t=60 step backward
		{button: true, a: false, b: false},  // t=70 release candidate
		{button: true, a: false, b: false},  // t=80
		{button: true, a: false, b: false},  // t=90 release confirmed, no event
	}
	pub := mqtt.NewFakePublisher()
	loop(t, samples, pub)

	events := pub.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}

	want := []struct {
		control string
		kind    logic.EventKind
		dir     logic.Direction
		value   int
	}{
		{"volume", logic.EventStep, logic.Forward, 1},
		{"volume", logic.EventStep, logic.Forward, 2},
		{"play-pause", logic.EventPress, logic.None, 0},
		{"volume", logic.EventStep, logic.Backward, 1},
	}
	for i, w := range want {
		ev := events[i]
		if ev.Control != w.control || ev.Kind != w.kind || ev.Direction != w.dir || ev.Value != w.value {
			t.Errorf("event %d: got %s/%s/%s/%d, want %s/%s/%s/%d",
				i, ev.Control, ev.Kind, ev.Direction, ev.Value, w.control, w.kind, w.dir, w.value)
		}
	}

	for i, payload := range pub.Payloads() {
		p := decode(t, payload)
		if p.Timestamp == "" {
			t.Errorf("payload %d: missing timestamp", i)
		}
		if p.Name != want[i].control || p.Event != string(want[i].kind) {
			t.Errorf("payload %d: got %s/%s", i, p.Name, p.Event)
		}
		if w := want[i]; w.kind == logic.EventStep {
			if p.Value == nil || *p.Value != w.value || p.Direction != w.dir.String() {
				t.Errorf("payload %d: step fields %s", i, payload)
			}
		} else if p.Value != nil || p.Direction != "" {
			t.Errorf("payload %d: press should carry no step fields: %s", i, payload)
		}
	}
}

// TestIntegrationNoEventsAtStartup verifies a held button and a resting
// encoder publish nothing while baselining.
func TestIntegrationNoEventsAtStartup(t *testing.T) {
	samples := []sample{
		{button: false, a: false, b: true},
		{button: false, a: false, b: true},
		{button: false, a: false, b: true},
		{button: false, a: false, b: true},
	}
	pub := mqtt.NewFakePublisher()
	loop(t, samples, pub)

	if n := len(pub.Events()); n != 0 {
		t.Errorf("expected no events during baseline, got %d", n)
	}
}

// TestIntegrationBounceRejection verifies bounces shorter than the window
// are ignored.
func TestIntegrationBounceRejection(t *testing.T) {
	samples := []sample{
		{button: true, a: true, b: true},
		{button: false, a: true, b: true},
		{button: true, a: true, b: true},
		{button: false, a: true, b: true},
		{button: true, a: true, b: true},
		{button: true, a: true, b: true},
	}
	pub := mqtt.NewFakePublisher()
	loop(t, samples, pub)

	if n := len(pub.Events()); n != 0 {
		t.Errorf("expected no events for bounce, got %d", n)
	}
}

// TestIntegrationVolumeClampsAtZero verifies turning down from the bottom
// publishes steps that stay at the minimum, with the zero value present.
func TestIntegrationVolumeClampsAtZero(t *testing.T) {
	samples := []sample{
		{button: true, a: true, b: true},
		{button: true, a: false, b: false}, // backward
		{button: true, a: true, b: true},   // backward
	}
	pub := mqtt.NewFakePublisher()
	loop(t, samples, pub)

	payloads := pub.Payloads()
	if len(payloads) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(payloads))
	}
	for i, payload := range payloads {
		p := decode(t, payload)
		if p.Direction != "backward" || p.Value == nil || *p.Value != 0 {
			t.Errorf("payload %d: got %s", i, payload)
		}
	}
}
