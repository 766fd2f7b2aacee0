package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/ir-turret/internal/capture"
	"github.com/sweeney/ir-turret/internal/hwclock"
	"github.com/sweeney/ir-turret/internal/ir"
	"github.com/sweeney/ir-turret/internal/mqtt"
	"github.com/sweeney/ir-turret/internal/servo"
	"github.com/sweeney/ir-turret/internal/sonar"
	"github.com/sweeney/ir-turret/internal/status"
	"github.com/sweeney/ir-turret/internal/turret"
)

// rig wires the full decode-control-publish stack with fakes at the edges:
// edge rings in, FakeDriver and FakePublisher out.
type rig struct {
	irRing   *capture.Ring
	echoRing *capture.Ring
	decoder  *ir.Decoder
	trig     *sonar.FakeTrigger
	ranger   *sonar.Rangefinder
	driver   *servo.FakeDriver
	act      *servo.Actuator
	ctrl     *turret.Controller
	pub      *mqtt.FakePublisher

	wall time.Time
}

func newRig(cfg turret.Config) *rig {
	r := &rig{
		irRing:   capture.NewRing(256),
		echoRing: capture.NewRing(16),
		trig:     &sonar.FakeTrigger{},
		driver:   &servo.FakeDriver{},
		pub:      mqtt.NewFakePublisher(),
		wall:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	r.decoder = ir.New(r.irRing)
	r.ranger = sonar.New(r.trig, r.echoRing, 20.0)

	var chs [servo.NumChannels]servo.ChannelConfig
	chs[servo.Pan] = servo.ChannelConfig{MinAngle: 0, MaxAngle: 180, Initial: 90}
	chs[servo.Tilt] = servo.ChannelConfig{MinAngle: 10, MaxAngle: 175, Initial: 100}
	chs[servo.Trigger] = servo.ChannelConfig{MinAngle: 0, MaxAngle: 180, Initial: cfg.RestAngle}
	r.act = servo.New(r.driver, chs)
	r.ctrl = turret.New(r.act, cfg)
	return r
}

// step runs one main-loop pass at the given tick: decode pending frames,
// collect range samples, advance the controller, publish everything.
func (r *rig) step(t *testing.T, now hwclock.Ticks) {
	t.Helper()
	for {
		cmd, ok := r.decoder.Poll(now)
		if !ok {
			break
		}
		ev := mqtt.Event{
			Timestamp: r.wall,
			Kind:      mqtt.KindCommand,
			Button:    ir.ButtonName(cmd.Button),
			Repeat:    cmd.Repeat,
		}
		if err := r.pub.Publish(ev); err != nil {
			t.Fatalf("publish command: %v", err)
		}
		if trans, ok := r.ctrl.HandleCommand(cmd, now); ok {
			r.publishTransition(t, trans)
		}
	}

	if sample, ok := r.ranger.Poll(now); ok {
		ev := mqtt.Event{
			Timestamp:  r.wall,
			Kind:       mqtt.KindRange,
			DistanceCM: sample.Distance.Centimeters(),
			Valid:      sample.Valid,
		}
		if err := r.pub.Publish(ev); err != nil {
			t.Fatalf("publish range: %v", err)
		}
		if trans, ok := r.ctrl.HandleRange(sample, now); ok {
			r.publishTransition(t, trans)
		}
	}

	if trans, ok := r.ctrl.Tick(now); ok {
		r.publishTransition(t, trans)
	}
}

func (r *rig) publishTransition(t *testing.T, trans turret.Transition) {
	t.Helper()
	err := r.pub.Publish(mqtt.Event{
		Timestamp: r.wall,
		Kind:      mqtt.KindTransition,
		From:      trans.From.String(),
		To:        trans.To.String(),
		Reason:    trans.Reason,
	})
	if err != nil {
		t.Fatalf("publish transition: %v", err)
	}
}

// injectFrame pushes a full NEC data frame onto the IR ring starting at the
// given tick and returns the tick just after the frame.
func injectFrame(r *capture.Ring, start hwclock.Ticks, button uint8) hwclock.Ticks {
	bits := uint32(0xFF)<<8 | // address 0x00 and its complement
		uint32(button)<<16 |
		uint32(^button)<<24

	type pulse struct{ mark, space uint32 }
	pulses := []pulse{{9000, 4500}}
	for i := 0; i < 32; i++ {
		if bits>>i&1 == 1 {
			pulses = append(pulses, pulse{562, 1687})
		} else {
			pulses = append(pulses, pulse{562, 562})
		}
	}
	pulses = append(pulses, pulse{562, 40_000})

	at := start
	for _, p := range pulses {
		r.Push(capture.Event{At: at, Edge: capture.Falling})
		at += hwclock.Ticks(p.mark)
		r.Push(capture.Event{At: at, Edge: capture.Rising})
		at += hwclock.Ticks(p.space)
	}
	return at
}

// injectRepeat pushes an NEC repeat code onto the IR ring.
func injectRepeat(r *capture.Ring, start hwclock.Ticks) hwclock.Ticks {
	at := start
	r.Push(capture.Event{At: at, Edge: capture.Falling})
	at += 9000
	r.Push(capture.Event{At: at, Edge: capture.Rising})
	at += 2250
	r.Push(capture.Event{At: at, Edge: capture.Falling})
	at += 562
	r.Push(capture.Event{At: at, Edge: capture.Rising})
	return at + 96_000
}

// measure runs one full rangefinder cycle at the given distance and feeds the
// resulting sample through the controller.
func (r *rig) measure(t *testing.T, now hwclock.Ticks, distance sonar.Distance) hwclock.Ticks {
	t.Helper()
	started, err := r.ranger.TriggerMeasurement(now)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !started {
		t.Fatal("expected measurement to start")
	}

	width := hwclock.FromDuration(time.Duration(
		2 * distance.Meters() / sonar.SpeedOfSound(20.0) * float64(time.Second)))
	echoStart := now + 500
	r.echoRing.Push(capture.Event{At: echoStart, Edge: capture.Rising})
	r.echoRing.Push(capture.Event{At: echoStart + width, Edge: capture.Falling})

	end := echoStart + width + 100
	r.step(t, end)
	return end
}

// TestIntegrationFullFlow drives aim, repeat, tilt and fire through the
// decoder and controller, then lets the dwell elapse.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(turret.DefaultConfig())

	at := injectFrame(r.irRing, 1000, ir.ButtonRight)
	r.step(t, at)
	at = injectRepeat(r.irRing, at)
	r.step(t, at)
	at = injectFrame(r.irRing, at, ir.ButtonUp)
	r.step(t, at)
	at = injectFrame(r.irRing, at, ir.ButtonOK)
	r.step(t, at)

	// Dwell elapses.
	at += hwclock.FromDuration(160 * time.Millisecond)
	r.step(t, at)

	if got := r.act.Target(servo.Pan); got != 106 {
		t.Errorf("pan target: got %d, want 106", got)
	}
	if got := r.act.Target(servo.Tilt); got != 92 {
		t.Errorf("tilt target: got %d, want 92", got)
	}
	if got := r.act.Target(servo.Trigger); got != 90 {
		t.Errorf("trigger target: got %d, want 90 (rest)", got)
	}
	if r.ctrl.State() != turret.Idle {
		t.Errorf("state: got %v, want Idle", r.ctrl.State())
	}

	// 4 commands and 3 transitions, interleaved in order.
	wantEvents := []struct {
		kind   mqtt.EventKind
		button string
		repeat bool
		to     string
		reason string
	}{
		{kind: mqtt.KindCommand, button: "right"},
		{kind: mqtt.KindTransition, to: "aiming", reason: "aim"},
		{kind: mqtt.KindCommand, button: "right", repeat: true},
		{kind: mqtt.KindCommand, button: "up"},
		{kind: mqtt.KindCommand, button: "ok"},
		{kind: mqtt.KindTransition, to: "firing", reason: "fire"},
		{kind: mqtt.KindTransition, to: "idle", reason: "dwell-elapsed"},
	}
	if len(r.pub.Events) != len(wantEvents) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantEvents), len(r.pub.Events), r.pub.Events)
	}
	for i, want := range wantEvents {
		got := r.pub.Events[i]
		if got.Kind != want.kind {
			t.Errorf("event %d: kind got %q, want %q", i, got.Kind, want.kind)
			continue
		}
		switch want.kind {
		case mqtt.KindCommand:
			if got.Button != want.button || got.Repeat != want.repeat {
				t.Errorf("event %d: got button=%q repeat=%v, want %q/%v",
					i, got.Button, got.Repeat, want.button, want.repeat)
			}
		case mqtt.KindTransition:
			if got.To != want.to || got.Reason != want.reason {
				t.Errorf("event %d: got to=%q reason=%q, want %q/%q",
					i, got.To, got.Reason, want.to, want.reason)
			}
		}
	}

	// Every payload is well-formed JSON with timestamp and kind.
	for i, payload := range r.pub.Payloads {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Errorf("payload %d: invalid JSON: %v", i, err)
		}
		if parsed.Turret.Timestamp == "" {
			t.Errorf("payload %d: missing timestamp", i)
		}
		if parsed.Turret.Kind == "" {
			t.Errorf("payload %d: missing kind", i)
		}
	}
}

// TestIntegrationGuardLifecycle walks the guard through enter, blocked fire,
// clear, and a successful fire afterwards.
func TestIntegrationGuardLifecycle(t *testing.T) {
	r := newRig(turret.DefaultConfig())

	// Obstruction at 15cm, inside the 30cm guard distance.
	at := r.measure(t, hwclock.FromDuration(time.Second), 0.15)
	if r.ctrl.State() != turret.RangeGuard {
		t.Fatalf("state after close sample: got %v, want RangeGuard", r.ctrl.State())
	}

	// OK while guarded: command is published but nothing fires.
	at = injectFrame(r.irRing, at+1000, ir.ButtonOK)
	r.step(t, at)
	if r.ctrl.State() != turret.RangeGuard {
		t.Errorf("state after blocked fire: got %v, want RangeGuard", r.ctrl.State())
	}
	if got := r.act.Target(servo.Trigger); got != 90 {
		t.Errorf("trigger target while guarded: got %d, want 90 (rest)", got)
	}

	// Obstruction moves away; the next cycle clears the guard. Cycles are
	// rate-limited, so leave the minimum interval between triggers.
	at += hwclock.FromDuration(100 * time.Millisecond)
	at = r.measure(t, at, 1.50)
	if r.ctrl.State() != turret.Idle {
		t.Fatalf("state after clear sample: got %v, want Idle", r.ctrl.State())
	}

	// Fire now goes through.
	at = injectFrame(r.irRing, at+1000, ir.ButtonOK)
	r.step(t, at)
	if r.ctrl.State() != turret.Firing {
		t.Errorf("state after fire: got %v, want Firing", r.ctrl.State())
	}
	if got := r.act.Target(servo.Trigger); got != 0 {
		t.Errorf("trigger target while firing: got %d, want 0", got)
	}

	// The transition trail: guard-entered, guard-cleared, fire.
	var reasons []string
	for _, ev := range r.pub.Events {
		if ev.Kind == mqtt.KindTransition {
			reasons = append(reasons, ev.Reason)
		}
	}
	want := []string{"guard-entered", "guard-cleared", "fire"}
	if len(reasons) != len(want) {
		t.Fatalf("transition reasons: got %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("transition %d: got %q, want %q", i, reasons[i], want[i])
		}
	}
}

// TestIntegrationBurstDwell verifies a burst holds the trigger for six rounds.
func TestIntegrationBurstDwell(t *testing.T) {
	cfg := turret.DefaultConfig()
	r := newRig(cfg)

	at := injectFrame(r.irRing, 1000, ir.ButtonStar)
	r.step(t, at)
	if r.ctrl.State() != turret.Firing {
		t.Fatalf("state after star: got %v, want Firing", r.ctrl.State())
	}

	// Five dwells in: still firing.
	r.step(t, at+hwclock.FromDuration(5*cfg.FireDwell))
	if r.ctrl.State() != turret.Firing {
		t.Errorf("state at 5 dwells: got %v, want Firing", r.ctrl.State())
	}

	// Six dwells: done.
	r.step(t, at+hwclock.FromDuration(6*cfg.FireDwell))
	if r.ctrl.State() != turret.Idle {
		t.Errorf("state at 6 dwells: got %v, want Idle", r.ctrl.State())
	}
	if got := r.act.Target(servo.Trigger); got != cfg.RestAngle {
		t.Errorf("trigger target after burst: got %d, want %d", got, cfg.RestAngle)
	}
}

// TestIntegrationServoScheduleFollowsCommands checks the pulse widths the
// driver actually receives as commands move the targets.
func TestIntegrationServoScheduleFollowsCommands(t *testing.T) {
	r := newRig(turret.DefaultConfig())

	r.act.Refresh()
	if got := r.driver.Last(servo.Pan); got != servo.PulseWidth(90) {
		t.Errorf("initial pan pulse: got %v, want %v", got, servo.PulseWidth(90))
	}

	at := injectFrame(r.irRing, 1000, ir.ButtonLeft)
	r.step(t, at)
	r.act.Refresh()
	if got := r.driver.Last(servo.Pan); got != servo.PulseWidth(82) {
		t.Errorf("pan pulse after left: got %v, want %v", got, servo.PulseWidth(82))
	}

	at = injectFrame(r.irRing, at, ir.ButtonOK)
	r.step(t, at)
	r.act.Refresh()
	if got := r.driver.Last(servo.Trigger); got != servo.PulseWidth(0) {
		t.Errorf("trigger pulse while firing: got %v, want %v", got, servo.PulseWidth(0))
	}

	r.step(t, at+hwclock.FromDuration(200*time.Millisecond))
	r.act.Refresh()
	if got := r.driver.Last(servo.Trigger); got != servo.PulseWidth(90) {
		t.Errorf("trigger pulse after dwell: got %v, want %v", got, servo.PulseWidth(90))
	}
}

// TestIntegrationCommandPayloadFormat verifies the exact JSON structure.
func TestIntegrationCommandPayloadFormat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Publish(mqtt.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Kind:      mqtt.KindCommand,
		Button:    "ok",
	})

	expected := `{"turret":{"timestamp":"2026-02-02T22:18:12Z","kind":"command","button":"ok"}}`
	if string(pub.Payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(pub.Payloads[0]), expected)
	}
}

// TestIntegrationTransitionPayloadFormat verifies the exact JSON structure.
func TestIntegrationTransitionPayloadFormat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Publish(mqtt.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Kind:      mqtt.KindTransition,
		From:      "idle",
		To:        "firing",
		Reason:    "fire",
	})

	expected := `{"turret":{"timestamp":"2026-02-02T22:18:12Z","kind":"transition","from":"idle","to":"firing","reason":"fire"}}`
	if string(pub.Payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(pub.Payloads[0]), expected)
	}
}

// TestIntegrationRangePayloadFormat verifies valid and invalid range payloads.
func TestIntegrationRangePayloadFormat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Publish(mqtt.Event{
		Timestamp:  time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Kind:       mqtt.KindRange,
		DistanceCM: 20.5,
		Valid:      true,
	})
	pub.Publish(mqtt.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 13, 0, time.UTC),
		Kind:      mqtt.KindRange,
		Valid:     false,
	})

	expected := `{"turret":{"timestamp":"2026-02-02T22:18:12Z","kind":"range","distance_cm":20.5,"valid":true}}`
	if string(pub.Payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(pub.Payloads[0]), expected)
	}

	// Invalid samples omit the distance entirely.
	expected = `{"turret":{"timestamp":"2026-02-02T22:18:13Z","kind":"range","valid":false}}`
	if string(pub.Payloads[1]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(pub.Payloads[1]), expected)
	}
}

// TestIntegrationShutdownPayloadFormat verifies the exact JSON structure for
// shutdown events without a status snapshot.
func TestIntegrationShutdownPayloadFormat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystem(mqtt.SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	})

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(pub.SystemPayloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(pub.SystemPayloads[0]), expected)
	}
}

// TestIntegrationStartupStatusSnapshot verifies a STARTUP event built from
// the tracker carries the full status payload.
func TestIntegrationStartupStatusSnapshot(t *testing.T) {
	start := time.Date(2026, 2, 3, 19, 5, 51, 0, time.UTC)
	tracker := status.NewTracker(start, status.Config{
		PollMs:          5,
		HeartbeatMs:     900000,
		Broker:          "tcp://192.168.1.200:1883",
		HTTPPort:        ":80",
		GuardPolicy:     "all",
		GuardDistanceCM: 30,
		TempC:           20,
	})

	snap := tracker.Snapshot()
	pub := mqtt.NewFakePublisher()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(pub.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "STARTUP" {
		t.Errorf("event: got %q, want STARTUP", parsed.Status.Event)
	}
	if parsed.Status.State != "idle" {
		t.Errorf("state: got %q, want idle", parsed.Status.State)
	}
	if parsed.Status.Config.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("broker: got %q, want tcp://192.168.1.200:1883", parsed.Status.Config.Broker)
	}
	if parsed.Status.Config.GuardPolicy != "all" {
		t.Errorf("guard policy: got %q, want all", parsed.Status.Config.GuardPolicy)
	}
	if parsed.Status.StartTime != "2026-02-03T19:05:51Z" {
		t.Errorf("start time: got %q, want 2026-02-03T19:05:51Z", parsed.Status.StartTime)
	}
}

// TestIntegrationEdgeOverflowIsCounted verifies a flooded ring drops oldest
// edges and counts them, and the pipeline keeps working afterwards.
func TestIntegrationEdgeOverflowIsCounted(t *testing.T) {
	r := newRig(turret.DefaultConfig())

	// Flood the echo ring far past its capacity.
	for i := 0; i < 100; i++ {
		r.echoRing.Push(capture.Event{At: hwclock.Ticks(i), Edge: capture.Rising})
	}
	if r.echoRing.Dropped() == 0 {
		t.Error("expected dropped edges after flooding the ring")
	}

	// The IR path is unaffected.
	at := injectFrame(r.irRing, 1000, ir.ButtonRight)
	r.step(t, at)
	if got := r.act.Target(servo.Pan); got != 98 {
		t.Errorf("pan target: got %d, want 98", got)
	}
}
