package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/config"
	"github.com/sweeney/westinghouse/internal/control"
	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/quadrature"
	"github.com/sweeney/westinghouse/internal/relay"
)

// hardware is every acquired control, ready to supervise.
type hardware struct {
	tasks []control.Task
	lamps []*relay.Relay
}

// Close releases every line held by the tasks.
func (h *hardware) Close() error {
	var errs []error
	for _, t := range h.tasks {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// builder acquires lines for the configured controls. The first failure
// releases everything acquired so far.
type builder struct {
	chip   gpio.Chip
	cfg    *config.Config
	client player.Client
	clock  clock.Clock
	logger *slog.Logger

	hw   hardware
	open []interface{ Close() error }
}

func buildHardware(chip gpio.Chip, cfg *config.Config, client player.Client, clk clock.Clock, logger *slog.Logger) (*hardware, error) {
	b := &builder{chip: chip, cfg: cfg, client: client, clock: clk, logger: logger}
	if err := b.build(); err != nil {
		for i := len(b.open) - 1; i >= 0; i-- {
			b.open[i].Close()
		}
		return nil, err
	}
	return &b.hw, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *builder) build() error {
	lamps := b.cfg.Lamps.All()
	for _, name := range sortedKeys(lamps) {
		if lc := lamps[name]; lc.Enabled() {
			if err := b.lamp(name, lc); err != nil {
				return err
			}
		}
	}
	buttons := b.cfg.Controls.Buttons()
	for _, name := range sortedKeys(buttons) {
		if bc := buttons[name]; bc.Enabled() {
			if err := b.button(name, bc); err != nil {
				return err
			}
		}
	}
	encoders := b.cfg.Controls.Encoders()
	for _, name := range sortedKeys(encoders) {
		if ec := encoders[name]; ec.Enabled() {
			if err := b.encoder(name, ec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) lamp(name string, lc config.LampConfig) error {
	polarity, err := relay.ParsePolarity(lc.Polarity)
	if err != nil {
		return fmt.Errorf("lamp %s: %w", name, err)
	}
	mode, err := control.ParseLampMode(lc.Mode)
	if err != nil {
		return fmt.Errorf("lamp %s: %w", name, err)
	}
	h, err := gpio.Acquire(b.chip, lc.Pin, gpio.LineConfig{
		Direction: gpio.Output,
		Consumer:  "westinghouse-" + name,
		Initial:   polarity.Level(false),
	})
	if err != nil {
		return fmt.Errorf("lamp %s: %w", name, err)
	}
	b.open = append(b.open, h)

	r, err := relay.New(h, relay.Config{Polarity: polarity, Settle: b.cfg.GPIO.Settle}, b.clock)
	if err != nil {
		return fmt.Errorf("lamp %s: %w", name, err)
	}
	b.hw.lamps = append(b.hw.lamps, r)
	// The lamp watches the player directly so an outage shows at once.
	b.hw.tasks = append(b.hw.tasks, control.NewLamp(control.LampConfig{
		Name:     name,
		Mode:     mode,
		Interval: lc.Interval,
		Blink:    lc.Blink,
	}, r, b.client, b.clock))
	return nil
}

func (b *builder) input(name string, pin int, window time.Duration) (*debounce.Input, error) {
	bias, err := gpio.ParseBias(b.cfg.GPIO.Bias)
	if err != nil {
		return nil, err
	}
	edge := gpio.EdgeNone
	if b.cfg.GPIO.UseEdges {
		edge = gpio.EdgeBoth
	}
	h, err := gpio.Acquire(b.chip, pin, gpio.LineConfig{
		Direction:    gpio.Input,
		Bias:         bias,
		Edge:         edge,
		DebounceHint: window,
		Consumer:     "westinghouse-" + name,
	})
	if err != nil {
		return nil, err
	}
	b.open = append(b.open, h)
	return debounce.New(h, debounce.Config{Window: window, Sample: b.cfg.GPIO.Poll, UseEdges: b.cfg.GPIO.UseEdges}, b.clock)
}

// breaker gives each input control its own backoff while the player is down.
func (b *builder) breaker(name string) player.Client {
	return player.NewBreaker(name, b.client, b.cfg.Player.Breaker, b.logger)
}

func (b *builder) button(name string, bc config.ButtonConfig) error {
	action, err := control.ParseAction(bc.Action)
	if err != nil {
		return fmt.Errorf("button %s: %w", name, err)
	}
	in, err := b.input(name, bc.Pin, b.cfg.GPIO.Debounce)
	if err != nil {
		return fmt.Errorf("button %s: %w", name, err)
	}
	b.hw.tasks = append(b.hw.tasks, control.NewButton(control.ButtonConfig{
		Name:      name,
		Action:    action,
		ActiveLow: b.cfg.GPIO.ActiveLow,
		HoldOff:   bc.HoldOff,
		LongPress: control.LongPress{Hold: bc.Hold, Command: bc.Command},
	}, in, b.breaker(name), b.clock))
	return nil
}

func (b *builder) encoder(name string, ec config.EncoderConfig) error {
	mode, err := control.ParseEncoderMode(ec.Mode)
	if err != nil {
		return fmt.Errorf("encoder %s: %w", name, err)
	}
	a, err := b.input(name+"-a", ec.PinA, b.cfg.GPIO.EncoderDebounce)
	if err != nil {
		return fmt.Errorf("encoder %s: %w", name, err)
	}
	bIn, err := b.input(name+"-b", ec.PinB, b.cfg.GPIO.EncoderDebounce)
	if err != nil {
		return fmt.Errorf("encoder %s: %w", name, err)
	}

	qcfg := quadrature.Config{Interval: ec.Interval, Reverse: ec.Reverse}
	if mode == control.ModeVolume {
		qcfg.Bounds = &logic.Bounds{Min: ec.Min, Max: ec.Max, Wrap: ec.Wrap}
		qcfg.Initial = ec.Min
	}
	enc := quadrature.New(a, bIn, qcfg, b.clock)
	b.hw.tasks = append(b.hw.tasks, control.NewEncoder(control.EncoderConfig{Name: name, Mode: mode}, enc, b.breaker(name)))
	return nil
}

// printState reads every configured input once and writes its raw level.
func printState(chip gpio.Chip, cfg *config.Config, w io.Writer) error {
	bias, err := gpio.ParseBias(cfg.GPIO.Bias)
	if err != nil {
		return err
	}
	pins := map[string]int{}
	for name, bc := range cfg.Controls.Buttons() {
		if bc.Enabled() {
			pins[name] = bc.Pin
		}
	}
	for name, ec := range cfg.Controls.Encoders() {
		if ec.Enabled() {
			pins[name+"-a"] = ec.PinA
			pins[name+"-b"] = ec.PinB
		}
	}

	var errs []error
	for _, name := range sortedKeys(pins) {
		pin := pins[name]
		h, err := gpio.Acquire(chip, pin, gpio.LineConfig{Direction: gpio.Input, Bias: bias, Consumer: "westinghouse-print"})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		v, err := h.Read()
		h.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		level := 0
		if v {
			level = 1
		}
		fmt.Fprintf(w, "%s (pin %d): %d\n", name, pin, level)
	}
	return errors.Join(errs...)
}
