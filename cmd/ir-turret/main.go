// Command ir-turret drives an IR-remote-controlled foam-dart turret: it
// decodes remote presses from GPIO edge events, keeps a rangefinder safety
// guard, positions the pan/tilt/trigger servos, and publishes telemetry to
// MQTT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/ir-turret/internal/capture"
	"github.com/sweeney/ir-turret/internal/config"
	"github.com/sweeney/ir-turret/internal/hwclock"
	"github.com/sweeney/ir-turret/internal/ir"
	"github.com/sweeney/ir-turret/internal/mqtt"
	"github.com/sweeney/ir-turret/internal/servo"
	"github.com/sweeney/ir-turret/internal/sonar"
	"github.com/sweeney/ir-turret/internal/status"
	"github.com/sweeney/ir-turret/internal/turret"
	"github.com/sweeney/ir-turret/internal/web"
)

// Edge queue depths. An NEC frame is 68 edges; 256 rides out a busy remote
// with a stalled loop. The rangefinder produces two edges per cycle.
const (
	irQueueDepth   = 256
	echoQueueDepth = 16
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(cfg *config.Config) error {
	clock := hwclock.NewWall()

	irMon, err := capture.NewMonitor(cfg.Chip, cfg.PinIR, capture.BiasPullUp, irQueueDepth, clock)
	if err != nil {
		return fmt.Errorf("init ir capture: %w", err)
	}
	defer irMon.Close()

	echoMon, err := capture.NewMonitor(cfg.Chip, cfg.PinEcho, capture.BiasNone, echoQueueDepth, clock)
	if err != nil {
		return fmt.Errorf("init echo capture: %w", err)
	}
	defer echoMon.Close()

	trig, err := sonar.NewTriggerLine(cfg.Chip, cfg.PinTrig)
	if err != nil {
		return fmt.Errorf("init rangefinder trigger: %w", err)
	}
	defer trig.Close()

	driver, err := servo.NewRPIODriver([servo.NumChannels]int{
		servo.Pan:     cfg.PinPan,
		servo.Tilt:    cfg.PinTilt,
		servo.Trigger: cfg.PinFire,
	})
	if err != nil {
		return fmt.Errorf("init servo pwm: %w", err)
	}
	defer driver.Close()

	turretCfg := turret.DefaultConfig()
	policy, ok := turret.ParseGuardPolicy(cfg.GuardPolicy)
	if !ok {
		return fmt.Errorf("unknown guard policy %q", cfg.GuardPolicy)
	}
	turretCfg.GuardPolicy = policy
	turretCfg.GuardDistance = sonar.Distance(cfg.GuardCM / 100)

	act := servo.New(driver, servoChannels(turretCfg))
	ctrl := turret.New(act, turretCfg)
	decoder := ir.New(irMon.Ring())
	ranger := sonar.New(trig, echoMon.Ring(), cfg.TempC)

	publisher, err := mqtt.NewRealPublisher(cfg.Broker)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:          cfg.Poll.Milliseconds(),
		HeartbeatMs:     cfg.Heartbeat.Milliseconds(),
		Broker:          cfg.Broker,
		HTTPPort:        cfg.HTTPAddr,
		GuardPolicy:     cfg.GuardPolicy,
		GuardDistanceCM: cfg.GuardCM,
		TempC:           cfg.TempC,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	// The pulse schedule refreshes on its own 20ms cadence, independent of
	// the control loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go act.Run(ctx)

	log.Info().
		Dur("poll", cfg.Poll).
		Str("broker", cfg.Broker).
		Str("guard", cfg.GuardPolicy).
		Msg("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		decoder:    decoder,
		ranger:     ranger,
		ctrl:       ctrl,
		act:        act,
		irEdges:    irMon.Ring(),
		echoEdges:  echoMon.Ring(),
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat,
		rangeEvery: cfg.RangeInterval,
	}, clock.Now, time.Now, ticker.C, sigCh)
}

// servoChannels maps the controller tuning onto per-channel servo limits.
// The tilt gearing hits its mechanical stops short of the servo's full
// travel; pan and trigger use the whole range.
func servoChannels(cfg turret.Config) [servo.NumChannels]servo.ChannelConfig {
	var chs [servo.NumChannels]servo.ChannelConfig
	chs[servo.Pan] = servo.ChannelConfig{MinAngle: 0, MaxAngle: 180, Initial: 90}
	chs[servo.Tilt] = servo.ChannelConfig{MinAngle: 10, MaxAngle: 175, Initial: 100}
	chs[servo.Trigger] = servo.ChannelConfig{MinAngle: 0, MaxAngle: 180, Initial: cfg.RestAngle}
	return chs
}

// loopDeps carries the run loop's collaborators so tests can substitute
// fakes and drive time by hand.
type loopDeps struct {
	decoder    *ir.Decoder
	ranger     *sonar.Rangefinder
	ctrl       *turret.Controller
	act        *servo.Actuator
	irEdges    *capture.Ring
	echoEdges  *capture.Ring
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	rangeEvery time.Duration
}

func runLoop(d loopDeps, now func() hwclock.Ticks, wallNow func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	var counts status.Counts
	var lastRangeAt hwclock.Ticks
	lastHeartbeat := wallNow()

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: wallNow(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				if d.mqttStatus != nil {
					d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
				snap := d.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Warn().Err(err).Msg("failed to publish shutdown event")
			}
			return nil

		case <-tick:
			t := now()

			// Decode any completed IR frames.
			for {
				cmd, ok := d.decoder.Poll(t)
				if !ok {
					break
				}
				handleCommand(d, cmd, t, wallNow(), &counts)
			}

			// Kick off and collect range measurements.
			if d.rangeEvery > 0 {
				if hwclock.Elapsed(t, lastRangeAt) >= d.rangeEvery {
					started, err := d.ranger.TriggerMeasurement(t)
					if err != nil {
						log.Warn().Err(err).Msg("rangefinder trigger failed")
					} else if started {
						lastRangeAt = t
					}
				}
				if sample, ok := d.ranger.Poll(t); ok {
					handleRange(d, sample, t, wallNow(), &counts)
				}
			}

			// Time-based transitions: dwell completion, repeat timeout.
			if trans, ok := d.ctrl.Tick(t); ok {
				publishTransition(d, trans, wallNow())
			}

			if d.heartbeat > 0 && wallNow().Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = wallNow()
				heartbeat(d, &counts)
			}

			if d.tracker != nil {
				counts.DroppedEdges = d.irEdges.Dropped() + d.echoEdges.Dropped()
				d.tracker.Update(d.ctrl.State().String(), d.ctrl.Obstructed(), status.Targets{
					Pan:     d.act.Target(servo.Pan),
					Tilt:    d.act.Target(servo.Tilt),
					Trigger: d.act.Target(servo.Trigger),
				}, counts)
				if d.mqttStatus != nil {
					d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
			}
		}
	}
}

func handleCommand(d loopDeps, cmd ir.Command, t hwclock.Ticks, wall time.Time, counts *status.Counts) {
	name := ir.ButtonName(cmd.Button)
	if cmd.Repeat {
		counts.Repeats++
	} else {
		counts.Commands++
	}
	log.Debug().Str("button", name).Bool("repeat", cmd.Repeat).Msg("command")

	if d.tracker != nil {
		d.tracker.SetLastCommand(name, cmd.Repeat, wall)
	}
	if err := d.publisher.Publish(mqtt.Event{
		Timestamp: wall,
		Kind:      mqtt.KindCommand,
		Button:    name,
		Repeat:    cmd.Repeat,
	}); err != nil {
		log.Warn().Err(err).Msg("publish error")
	}

	if trans, ok := d.ctrl.HandleCommand(cmd, t); ok {
		if trans.Reason == "fire" || trans.Reason == "burst" {
			counts.Fires++
		}
		publishTransition(d, trans, wall)
	}
}

func handleRange(d loopDeps, sample sonar.Sample, t hwclock.Ticks, wall time.Time, counts *status.Counts) {
	counts.Ranges++
	if !sample.Valid {
		counts.InvalidRanges++
	}

	if d.tracker != nil {
		d.tracker.SetLastRange(sample.Distance.Centimeters(), sample.Valid, wall)
	}
	if err := d.publisher.Publish(mqtt.Event{
		Timestamp:  wall,
		Kind:       mqtt.KindRange,
		DistanceCM: sample.Distance.Centimeters(),
		Valid:      sample.Valid,
	}); err != nil {
		log.Warn().Err(err).Msg("publish error")
	}

	if trans, ok := d.ctrl.HandleRange(sample, t); ok {
		publishTransition(d, trans, wall)
	}
}

func publishTransition(d loopDeps, trans turret.Transition, wall time.Time) {
	log.Info().
		Str("from", trans.From.String()).
		Str("to", trans.To.String()).
		Str("reason", trans.Reason).
		Msg("transition")

	if err := d.publisher.Publish(mqtt.Event{
		Timestamp: wall,
		Kind:      mqtt.KindTransition,
		From:      trans.From.String(),
		To:        trans.To.String(),
		Reason:    trans.Reason,
	}); err != nil {
		log.Warn().Err(err).Msg("publish error")
	}
}

func heartbeat(d loopDeps, counts *status.Counts) {
	hbEvent := mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     "HEARTBEAT",
	}
	if d.tracker != nil {
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
		// Refresh network info for the heartbeat snapshot
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		counts.DroppedEdges = d.irEdges.Dropped() + d.echoEdges.Dropped()
		d.tracker.Update(d.ctrl.State().String(), d.ctrl.Obstructed(), status.Targets{
			Pan:     d.act.Target(servo.Pan),
			Tilt:    d.act.Target(servo.Tilt),
			Trigger: d.act.Target(servo.Trigger),
		}, *counts)
		snap := d.tracker.Snapshot()
		hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
	}
	if err := d.publisher.PublishSystem(hbEvent); err != nil {
		log.Warn().Err(err).Msg("heartbeat publish error")
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
