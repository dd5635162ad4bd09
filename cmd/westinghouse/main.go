// Command westinghouse drives a headless MPD player from physical buttons,
// rotary encoders and relay lamps on a Linux GPIO chip.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/config"
	"github.com/sweeney/westinghouse/internal/control"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/library"
	"github.com/sweeney/westinghouse/internal/logging"
	"github.com/sweeney/westinghouse/internal/mqtt"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/status"
	"github.com/sweeney/westinghouse/internal/web"
)

// flagValues holds parsed command-line flags. Only flags the user set
// override the loaded configuration.
type flagValues struct {
	config     string
	chip       string
	mpdHost    string
	mpdPort    int
	httpAddr   string
	broker     string
	heartbeat  time.Duration
	logLevel   string
	logFormat  string
	rescan     string
	poll       time.Duration
	debounce   time.Duration
	settle     time.Duration
	volumeMin  int
	volumeMax  int
	printState bool
	seed       string
	playlist   string
}

func newFlagSet() (*pflag.FlagSet, *flagValues) {
	d := config.Default()
	v := &flagValues{}
	fs := pflag.NewFlagSet("westinghouse", pflag.ContinueOnError)
	fs.StringVarP(&v.config, "config", "c", "", "YAML configuration file")
	fs.StringVar(&v.chip, "chip", d.GPIO.Chip, "GPIO chip name")
	fs.StringVar(&v.mpdHost, "mpd-host", d.Player.Host, "MPD host")
	fs.IntVar(&v.mpdPort, "mpd-port", d.Player.Port, "MPD port")
	fs.StringVar(&v.httpAddr, "http", d.HTTP.Addr, "HTTP status address (empty to disable)")
	fs.StringVar(&v.broker, "broker", d.MQTT.Broker, "MQTT broker address (empty to disable)")
	fs.DurationVar(&v.heartbeat, "heartbeat", d.MQTT.Heartbeat, "MQTT heartbeat interval (0 to disable)")
	fs.StringVar(&v.logLevel, "log-level", d.Logging.Level, "log level: debug, info, warn, error")
	fs.StringVar(&v.logFormat, "log-format", d.Logging.Format, "log format: text or json")
	fs.StringVar(&v.rescan, "rescan", d.Library.RescanSchedule, `library rescan cron schedule, e.g. "@daily"`)
	fs.DurationVar(&v.poll, "poll", d.GPIO.Poll, "input sampling interval")
	fs.DurationVar(&v.debounce, "debounce", d.GPIO.Debounce, "button debounce window")
	fs.DurationVar(&v.settle, "settle", d.GPIO.Settle, "minimum time between relay transitions")
	fs.IntVar(&v.volumeMin, "volume-min", d.Controls.Volume.Min, "lowest volume the knob sets")
	fs.IntVar(&v.volumeMax, "volume-max", d.Controls.Volume.Max, "highest volume the knob sets")
	fs.BoolVar(&v.printState, "print-state", false, "print every input level and exit")
	fs.StringVar(&v.seed, "seed", "", "replace the queue with the music under DIR and exit")
	fs.StringVar(&v.playlist, "playlist", "", "stored playlist to load before seeding")
	return fs, v
}

// apply copies the flags the user set onto cfg.
func (v *flagValues) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("chip", func() { cfg.GPIO.Chip = v.chip })
	set("mpd-host", func() { cfg.Player.Host = v.mpdHost })
	set("mpd-port", func() { cfg.Player.Port = v.mpdPort })
	set("http", func() { cfg.HTTP.Addr = v.httpAddr })
	set("broker", func() { cfg.MQTT.Broker = v.broker })
	set("heartbeat", func() { cfg.MQTT.Heartbeat = v.heartbeat })
	set("log-level", func() { cfg.Logging.Level = v.logLevel })
	set("log-format", func() { cfg.Logging.Format = v.logFormat })
	set("rescan", func() { cfg.Library.RescanSchedule = v.rescan })
	set("poll", func() { cfg.GPIO.Poll = v.poll })
	set("debounce", func() { cfg.GPIO.Debounce = v.debounce })
	set("settle", func() { cfg.GPIO.Settle = v.settle })
	set("volume-min", func() { cfg.Controls.Volume.Min = v.volumeMin })
	set("volume-max", func() { cfg.Controls.Volume.Max = v.volumeMax })
}

func loadConfig(args []string) (*config.Config, *flagValues, error) {
	fs, v := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Read(v.config)
	if err != nil {
		return nil, nil, err
	}
	v.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func main() {
	cfg, flags, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg, flags); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, flags *flagValues) error {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)
	client := player.NewMPD(cfg.Player.Client())

	if flags.seed != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		seeder := library.NewSeeder(library.SeederConfig{
			MusicDir:     cfg.Library.MusicDir,
			Playlist:     flags.playlist,
			AliveTimeout: 2 * time.Minute,
		}, client, clock.Real{}, logger)
		n, err := seeder.Seed(ctx, flags.seed)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Printf("queued %d files from %s\n", n, flags.seed)
		return nil
	}

	chip, err := gpio.OpenChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	if flags.printState {
		return printState(chip, cfg, os.Stdout)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			BufferSize:         cfg.MQTT.BufferSize,
			Logger:             logger,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	var heartbeat <-chan time.Time
	if publisher != nil && cfg.MQTT.Heartbeat > 0 {
		t := time.NewTicker(cfg.MQTT.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		chip:      chip,
		clock:     clock.Real{},
		tracker:   tracker,
		publisher: publisher,
	}
	return d.run(sigCh, heartbeat)
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		PlayerAddr:  cfg.Player.Client().Addr(),
		Chip:        cfg.GPIO.Chip,
		PollMs:      cfg.GPIO.Poll.Milliseconds(),
		DebounceMs:  cfg.GPIO.Debounce.Milliseconds(),
		SettleMs:    cfg.GPIO.Settle.Milliseconds(),
		BlinkMs:     cfg.Lamps.Liveness.Blink.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	}
}

// daemon is the long-running mode: supervised controls plus the status
// surfaces around them.
type daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    player.Client
	chip      gpio.Chip
	clock     clock.Clock
	tracker   *status.Tracker
	publisher mqtt.Publisher // nil when telemetry is off
}

// run blocks until a signal arrives or every control has stopped. It
// returns nil on a signal and the joined task failures otherwise.
func (d *daemon) run(sig <-chan os.Signal, heartbeat <-chan time.Time) error {
	hw, err := buildHardware(d.chip, d.cfg, d.client, d.clock, d.logger)
	if err != nil {
		return fmt.Errorf("acquire controls: %w", err)
	}
	if len(hw.tasks) == 0 {
		return errors.New("no controls configured")
	}

	d.publishSystem("STARTUP", "", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if d.cfg.HTTP.Addr != "" {
		srv := web.New(d.cfg.HTTP.Addr, d.tracker, d.logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		d.logger.Info("http status server listening", "addr", d.cfg.HTTP.Addr)
	}

	if d.cfg.Library.RescanSchedule != "" {
		r, err := library.NewRescanner(d.cfg.Library.RescanSchedule, d.client, d.logger)
		if err != nil {
			hw.Close()
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Run(ctx)
		}()
		defer func() { <-done }()
		// Deferred calls run last-in first-out: cancel before waiting.
		defer cancel()
	}

	var sink control.EventSink
	if d.publisher != nil {
		sink = d.publisher
	}
	sup := control.NewSupervisor(control.Config{
		Tracker:      d.tracker,
		Sink:         sink,
		Logger:       d.logger,
		Clock:        d.clock,
		StartupBlink: d.cfg.GPIO.StartupBlink,
		Lamps:        hw.lamps,
	}, hw.tasks...)

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()
	d.logger.Info("started",
		"player", d.cfg.Player.Client().Addr(),
		"chip", d.cfg.GPIO.Chip,
		"controls", len(hw.tasks),
		"broker", d.cfg.MQTT.Broker)

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.logger.Info("shutting down", "signal", name)
			cancel()
			if err := <-supDone; err != nil {
				d.logger.Warn("controls failed before shutdown", "error", err)
			}
			d.publishSystem("SHUTDOWN", name, true)
			return nil

		case err := <-supDone:
			d.publishSystem("SHUTDOWN", "CONTROLS_STOPPED", true)
			if err == nil {
				err = errors.New("all controls stopped")
			}
			return err

		case <-heartbeat:
			d.publishSystem("HEARTBEAT", "", false)
		}
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
// Failures are logged and otherwise ignored.
func (d *daemon) publishSystem(event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	if cs, ok := d.publisher.(mqtt.ConnectionStatus); ok {
		d.tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.logger.Warn("publish system event failed", "event", event, "error", err)
		return
	}
	d.logger.Debug("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
