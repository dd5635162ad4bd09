package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// Defaults for an unconfigured client.
const (
	DefaultHost = "localhost"
	DefaultPort = 6600
	// DefaultTimeout bounds one dial-and-command round trip.
	DefaultTimeout = 3 * time.Second
)

// Config describes how to reach the player daemon.
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MPD is a Client for a Music Player Daemon. It holds no connection between
// commands and is safe for concurrent use.
type MPD struct {
	addr     string
	password string
	timeout  time.Duration
}

// NewMPD creates an MPD client. Nothing is dialled until the first command.
func NewMPD(cfg Config) *MPD {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MPD{addr: cfg.Addr(), password: cfg.Password, timeout: timeout}
}

// Addr returns the daemon address.
func (m *MPD) Addr() string { return m.addr }

func (m *MPD) dial() (*mpd.Client, error) {
	if m.password != "" {
		return mpd.DialAuthenticated("tcp", m.addr, m.password)
	}
	return mpd.Dial("tcp", m.addr)
}

// do dials, runs fn and closes the connection. The round trip is abandoned
// after the configured timeout; the connection is still closed once the
// dial or command returns. Values captured by fn may only be read when do
// returns nil.
func (m *MPD) do(ctx context.Context, name string, fn func(*mpd.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		c, err := m.dial()
		if err != nil {
			done <- fmt.Errorf("%s: %w: %v", name, ErrUnreachable, err)
			return
		}
		defer c.Close()
		done <- classify(name, fn(c))
	}()

	t := time.NewTimer(m.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("%s: %w: no answer within %v", name, ErrUnreachable, m.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify sorts command errors into transport failures and refusals.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%s: %w: %v", name, ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrCommandRejected, err)
}

func (m *MPD) Ping(ctx context.Context) error {
	return m.do(ctx, "ping", func(c *mpd.Client) error { return c.Ping() })
}

func (m *MPD) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.do(ctx, "status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		st, err = ParseStatus(attrs)
		return err
	})
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

func (m *MPD) TogglePause(ctx context.Context) error {
	return m.do(ctx, "toggle", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		switch attrs["state"] {
		case StatePlay:
			return c.Pause(true)
		case StatePause:
			return c.Pause(false)
		default:
			return c.Play(-1)
		}
	})
}

func (m *MPD) Play(ctx context.Context) error {
	return m.do(ctx, "play", func(c *mpd.Client) error { return c.Play(-1) })
}

func (m *MPD) Pause(ctx context.Context) error {
	return m.do(ctx, "pause", func(c *mpd.Client) error { return c.Pause(true) })
}

func (m *MPD) Next(ctx context.Context) error {
	return m.do(ctx, "next", func(c *mpd.Client) error { return c.Next() })
}

func (m *MPD) Previous(ctx context.Context) error {
	return m.do(ctx, "previous", func(c *mpd.Client) error { return c.Previous() })
}

func (m *MPD) Shuffle(ctx context.Context) error {
	return m.do(ctx, "shuffle", func(c *mpd.Client) error { return c.Shuffle(-1, -1) })
}

func (m *MPD) Clear(ctx context.Context) error {
	return m.do(ctx, "clear", func(c *mpd.Client) error { return c.Clear() })
}

func (m *MPD) Add(ctx context.Context, uri string) error {
	return m.do(ctx, "add", func(c *mpd.Client) error { return c.Add(uri) })
}

func (m *MPD) Update(ctx context.Context, uri string) (int, error) {
	var job int
	err := m.do(ctx, "update", func(c *mpd.Client) error {
		var err error
		job, err = c.Update(uri)
		return err
	})
	if err != nil {
		return 0, err
	}
	return job, nil
}

func (m *MPD) SetVolume(ctx context.Context, volume int) error {
	return m.do(ctx, "setvol", func(c *mpd.Client) error { return c.SetVolume(volume) })
}

func (m *MPD) Random(ctx context.Context, on bool) error {
	return m.do(ctx, "random", func(c *mpd.Client) error { return c.Random(on) })
}

func (m *MPD) Repeat(ctx context.Context, on bool) error {
	return m.do(ctx, "repeat", func(c *mpd.Client) error { return c.Repeat(on) })
}

func (m *MPD) LoadPlaylist(ctx context.Context, name string) error {
	return m.do(ctx, "load", func(c *mpd.Client) error { return c.PlaylistLoad(name, -1, -1) })
}

var _ Client = (*MPD)(nil)
