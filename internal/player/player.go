// Package player is the boundary to the music player daemon. Every command
// opens its own short-lived connection, so no session state is shared
// between control tasks.
package player

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnreachable means no connection could be made or it dropped
	// mid-command. Expected while the player starts or restarts.
	ErrUnreachable = errors.New("player unreachable")
	// ErrCommandRejected means the player answered but refused the command,
	// for example "next" at the end of the queue.
	ErrCommandRejected = errors.New("player rejected command")
	// ErrCircuitOpen means the command was not attempted because recent
	// commands kept finding the player unreachable.
	ErrCircuitOpen = errors.New("player circuit open")
)

// Playback states reported by Status.
const (
	StatePlay  = "play"
	StatePause = "pause"
	StateStop  = "stop"
)

// Status is the subset of player status the controls act on.
type Status struct {
	State          string `json:"state"`
	Volume         int    `json:"volume"`
	Song           int    `json:"song"`
	PlaylistLength int    `json:"playlist_length"`
	Random         bool   `json:"random"`
	Repeat         bool   `json:"repeat"`
	// UpdatingDB is the running library update job, 0 when idle.
	UpdatingDB int `json:"updating_db,omitempty"`
}

// Playing reports whether the player is currently playing.
func (s Status) Playing() bool { return s.State == StatePlay }

// HasNext reports whether a track follows the current one in the queue.
func (s Status) HasNext() bool { return s.Song < s.PlaylistLength-1 }

// Client issues commands against the player.
type Client interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	// TogglePause starts playback when stopped, otherwise flips pause.
	TogglePause(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Shuffle(ctx context.Context) error
	Clear(ctx context.Context) error
	Add(ctx context.Context, uri string) error
	// Update starts a library rescan below uri ("" for everything) and
	// returns the job id.
	Update(ctx context.Context, uri string) (int, error)
	SetVolume(ctx context.Context, volume int) error
	Random(ctx context.Context, on bool) error
	Repeat(ctx context.Context, on bool) error
	LoadPlaylist(ctx context.Context, name string) error
}

// ParseStatus converts raw status attributes. Missing song or volume fields
// read as -1; a missing state reads as stopped.
func ParseStatus(attrs map[string]string) (Status, error) {
	s := Status{State: attrs["state"], Song: -1, Volume: -1}
	if s.State == "" {
		s.State = StateStop
	}
	var err error
	if s.Volume, err = intAttr(attrs, "volume", -1); err != nil {
		return s, err
	}
	if s.Song, err = intAttr(attrs, "song", -1); err != nil {
		return s, err
	}
	if s.PlaylistLength, err = intAttr(attrs, "playlistlength", 0); err != nil {
		return s, err
	}
	if s.UpdatingDB, err = intAttr(attrs, "updating_db", 0); err != nil {
		return s, err
	}
	s.Random = attrs["random"] == "1"
	s.Repeat = attrs["repeat"] == "1"
	return s, nil
}

func intAttr(attrs map[string]string, key string, def int) (int, error) {
	v, ok := attrs[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("status %s %q: %w", key, v, err)
	}
	return n, nil
}
