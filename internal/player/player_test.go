package player

import "testing"

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(map[string]string{
		"state":          "play",
		"volume":         "20",
		"song":           "2",
		"playlistlength": "5",
		"random":         "1",
		"repeat":         "0",
		"updating_db":    "4",
	})
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	want := Status{State: StatePlay, Volume: 20, Song: 2, PlaylistLength: 5, Random: true, UpdatingDB: 4}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
	if !st.Playing() {
		t.Error("expected playing")
	}
}

func TestParseStatusDefaults(t *testing.T) {
	st, err := ParseStatus(map[string]string{})
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if st.State != StateStop || st.Song != -1 || st.Volume != -1 || st.PlaylistLength != 0 {
		t.Errorf("got %+v", st)
	}
}

func TestParseStatusBadNumber(t *testing.T) {
	if _, err := ParseStatus(map[string]string{"volume": "loud"}); err == nil {
		t.Error("expected error for non-numeric volume")
	}
}

func TestHasNext(t *testing.T) {
	tests := []struct {
		song, length int
		want         bool
	}{
		{0, 5, true},
		{3, 5, true},
		{4, 5, false},
		{-1, 0, false},
		{-1, 3, true},
	}
	for _, tt := range tests {
		st := Status{Song: tt.song, PlaylistLength: tt.length}
		if got := st.HasNext(); got != tt.want {
			t.Errorf("song %d of %d: got %v, want %v", tt.song, tt.length, got, tt.want)
		}
	}
}
