// Package library seeds the player queue from a music directory and keeps
// the player's database fresh with scheduled rescans.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/player"
)

// ErrNoAudio is returned when the seed directory holds no playable files.
var ErrNoAudio = errors.New("library: no audio files")

// audioExts are the extensions added to the queue, lower case.
var audioExts = map[string]bool{
	".mp3": true, ".flac": true, ".mp4": true, ".m4a": true,
	".aiff": true, ".aac": true, ".ogg": true, ".wav": true,
}

// IsAudio reports whether name has a playable extension.
func IsAudio(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// Scan returns every audio file below dir as a slash-separated path relative
// to root, sorted. A relative dir is taken relative to root; an absolute dir
// must lie within root.
func Scan(root, dir string) ([]string, error) {
	dir, _, err := resolve(root, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsAudio(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("library: scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// resolve returns dir as an absolute path and as a slash-separated URI
// relative to root ("" for root itself).
func resolve(root, dir string) (abs, uri string, err error) {
	abs = dir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("library: %s is outside music root %s", dir, root)
	}
	if rel == "." {
		return abs, "", nil
	}
	return abs, filepath.ToSlash(rel), nil
}

// SeederConfig configures a Seeder.
type SeederConfig struct {
	// MusicDir is the player's music root.
	MusicDir string
	// Playlist, if set, is loaded after clearing. A missing playlist is
	// not an error.
	Playlist string
	// AliveTimeout bounds the wait for the player to answer. Zero waits
	// until ctx is done.
	AliveTimeout time.Duration
	// UpdateWait bounds the wait for the database update to finish. The
	// seed continues after it regardless.
	UpdateWait time.Duration
	// Poll is the spacing of liveness and update checks.
	Poll time.Duration
}

// Seeder replaces the player queue with a directory of music.
type Seeder struct {
	cfg    SeederConfig
	player player.Client
	clock  clock.Clock
	logger *slog.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(cfg SeederConfig, client player.Client, clk clock.Clock, logger *slog.Logger) *Seeder {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if cfg.UpdateWait <= 0 {
		cfg.UpdateWait = 5 * time.Minute
	}
	return &Seeder{cfg: cfg, player: client, clock: clk, logger: logger.With("component", "library")}
}

// Seed waits for the player, clears the queue, rescans dir, queues every
// audio file under it, then shuffles, enables repeat and starts playback.
// It returns the number of files queued.
func (s *Seeder) Seed(ctx context.Context, dir string) (int, error) {
	files, err := Scan(s.cfg.MusicDir, dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w under %s", ErrNoAudio, dir)
	}

	if err := s.waitAlive(ctx); err != nil {
		return 0, err
	}
	if err := s.player.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	if s.cfg.Playlist != "" {
		if err := s.player.LoadPlaylist(ctx, s.cfg.Playlist); err != nil {
			if !errors.Is(err, player.ErrCommandRejected) {
				return 0, fmt.Errorf("load playlist: %w", err)
			}
			s.logger.Info("playlist not loaded", "playlist", s.cfg.Playlist, "error", err)
		}
	}

	_, uri, _ := resolve(s.cfg.MusicDir, dir)
	job, err := s.player.Update(ctx, uri)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", uri, err)
	}
	s.logger.Info("library update started", "uri", uri, "job", job)
	if err := s.waitUpdated(ctx); err != nil {
		return 0, err
	}

	queued := 0
	for _, f := range files {
		err := s.player.Add(ctx, f)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, player.ErrCommandRejected):
			s.logger.Warn("file not queued", "file", f, "error", err)
		default:
			return queued, fmt.Errorf("add %s: %w", f, err)
		}
	}
	if queued == 0 {
		return 0, fmt.Errorf("%w queued from %s", ErrNoAudio, dir)
	}

	if err := s.player.Shuffle(ctx); err != nil {
		return queued, fmt.Errorf("shuffle: %w", err)
	}
	if err := s.player.Repeat(ctx, true); err != nil {
		return queued, fmt.Errorf("repeat: %w", err)
	}
	if err := s.player.Play(ctx); err != nil {
		return queued, fmt.Errorf("play: %w", err)
	}
	s.logger.Info("queue seeded", "dir", dir, "files", queued)
	return queued, nil
}

func (s *Seeder) waitAlive(ctx context.Context) error {
	deadline := time.Time{}
	if s.cfg.AliveTimeout > 0 {
		deadline = s.clock.Now().Add(s.cfg.AliveTimeout)
	}
	for {
		err := s.player.Ping(ctx)
		if err == nil {
			return nil
		}
		if !deadline.IsZero() && !s.clock.Now().Before(deadline) {
			return fmt.Errorf("waiting for player: %w", err)
		}
		s.logger.Debug("player not ready", "error", err)
		if err := s.clock.Sleep(ctx, s.cfg.Poll); err != nil {
			return err
		}
	}
}

func (s *Seeder) waitUpdated(ctx context.Context) error {
	deadline := s.clock.Now().Add(s.cfg.UpdateWait)
	for {
		st, err := s.player.Status(ctx)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if st.UpdatingDB == 0 {
			return nil
		}
		if !s.clock.Now().Before(deadline) {
			s.logger.Warn("library update still running, queueing anyway", "job", st.UpdatingDB)
			return nil
		}
		if err := s.clock.Sleep(ctx, s.cfg.Poll); err != nil {
			return err
		}
	}
}
