package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 3
	defaultBreakerTimeout     time.Duration = 5 * time.Second
	defaultBreakerInterval    time.Duration = time.Minute
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive unreachable results before
	// the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before one probe is allowed.
	Timeout time.Duration `yaml:"timeout"`
	// Interval clears failure counts while closed.
	Interval time.Duration `yaml:"interval"`
}

// Breaker wraps a Client with a circuit breaker. While the player is down,
// commands fail fast with ErrCircuitOpen instead of dialling on every input
// event, and a single probe is let through after the timeout. Rejected
// commands count as successes: the player answered.
type Breaker struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps inner. Zero config fields take defaults.
func NewBreaker(name string, inner Client, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "player:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) state() gobreaker.State { return b.breaker.State() }

func (b *Breaker) run(fn func() error) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (b *Breaker) Ping(ctx context.Context) error {
	return b.run(func() error { return b.inner.Ping(ctx) })
}

func (b *Breaker) Status(ctx context.Context) (Status, error) {
	var st Status
	err := b.run(func() error {
		var err error
		st, err = b.inner.Status(ctx)
		return err
	})
	return st, err
}

func (b *Breaker) TogglePause(ctx context.Context) error {
	return b.run(func() error { return b.inner.TogglePause(ctx) })
}

func (b *Breaker) Play(ctx context.Context) error {
	return b.run(func() error { return b.inner.Play(ctx) })
}

func (b *Breaker) Pause(ctx context.Context) error {
	return b.run(func() error { return b.inner.Pause(ctx) })
}

func (b *Breaker) Next(ctx context.Context) error {
	return b.run(func() error { return b.inner.Next(ctx) })
}

func (b *Breaker) Previous(ctx context.Context) error {
	return b.run(func() error { return b.inner.Previous(ctx) })
}

func (b *Breaker) Shuffle(ctx context.Context) error {
	return b.run(func() error { return b.inner.Shuffle(ctx) })
}

func (b *Breaker) Clear(ctx context.Context) error {
	return b.run(func() error { return b.inner.Clear(ctx) })
}

func (b *Breaker) Add(ctx context.Context, uri string) error {
	return b.run(func() error { return b.inner.Add(ctx, uri) })
}

func (b *Breaker) Update(ctx context.Context, uri string) (int, error) {
	var job int
	err := b.run(func() error {
		var err error
		job, err = b.inner.Update(ctx, uri)
		return err
	})
	return job, err
}

func (b *Breaker) SetVolume(ctx context.Context, volume int) error {
	return b.run(func() error { return b.inner.SetVolume(ctx, volume) })
}

func (b *Breaker) Random(ctx context.Context, on bool) error {
	return b.run(func() error { return b.inner.Random(ctx, on) })
}

func (b *Breaker) Repeat(ctx context.Context, on bool) error {
	return b.run(func() error { return b.inner.Repeat(ctx, on) })
}

func (b *Breaker) LoadPlaylist(ctx context.Context, name string) error {
	return b.run(func() error { return b.inner.LoadPlaylist(ctx, name) })
}

var _ Client = (*Breaker)(nil)
