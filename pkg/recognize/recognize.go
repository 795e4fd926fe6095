// Package recognize is the client for the remote music recognition service.
//
// A finished recording is uploaded as multipart/form-data together with a
// record-type tag that selects between recognition of recorded music and
// recognition of humming. The service answers with a status block and a list
// of candidate tracks.
//
// Usage:
//
//	c, err := recognize.New("http://localhost:5000/api/recognize")
//	res, err := c.Recognize(ctx, recognize.Payload{Audio: webm, RecordType: recognize.RecordAudio})
//	var rerr *recognize.RecognitionError
//	if errors.As(err, &rerr) { ... }
package recognize

import (
	"fmt"
	"math"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// RecordType tags a recording with the recognition mode the service should use.
type RecordType string

const (
	// RecordAudio asks for recognition of recorded music.
	RecordAudio RecordType = "audio"

	// RecordHumming asks for recognition of a hummed melody.
	RecordHumming RecordType = "humming"
)

// IsValid reports whether r is a recognised record type.
func (r RecordType) IsValid() bool {
	return r == RecordAudio || r == RecordHumming
}

// Toggle returns the other record type.
func (r RecordType) Toggle() RecordType {
	if r == RecordHumming {
		return RecordAudio
	}
	return RecordHumming
}

// Payload is a finalized recording ready for upload. It is consumed once.
type Payload struct {
	// Audio is the complete WebM/Opus file. It may be empty when a session
	// was stopped before any fragment was produced.
	Audio []byte

	// RecordType selects the recognition mode.
	RecordType RecordType
}

// Status is the service-level outcome reported inside a 2xx response.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// Track is one candidate match.
type Track struct {
	Title  string
	Artist string
	Album  string

	// Score is the match confidence in the range 0–100. Zero means the
	// service did not report one.
	Score float64

	// SpotifyID is empty when the service has no Spotify mapping.
	SpotifyID spotify.ID

	// ExternalURL is the canonical link reported by the Spotify catalogue.
	// It is set by [SpotifyResolver].
	ExternalURL string
}

// UnknownArtist is shown when a track carries no artist.
const UnknownArtist = "Unknown"

// SpotifyURL returns the public Spotify link for the track, or "" when the
// track has no Spotify ID.
func (t Track) SpotifyURL() string {
	if t.ExternalURL != "" {
		return t.ExternalURL
	}
	if t.SpotifyID == "" {
		return ""
	}
	return "https://open.spotify.com/track/" + t.SpotifyID.String()
}

// RoundedScore returns the score rounded to the nearest whole percent.
func (t Track) RoundedScore() int {
	return int(math.Round(t.Score))
}

// DisplayArtist returns the artist or [UnknownArtist].
func (t Track) DisplayArtist() string {
	if t.Artist == "" {
		return UnknownArtist
	}
	return t.Artist
}

// Result is a successful recognition outcome.
type Result struct {
	Status Status
	Tracks []Track
}

// NoMatchMessage is displayed when a result carries no tracks.
const NoMatchMessage = "No matches found. Please try again."

// Summary renders the result as the short human-readable card shown by the
// console view.
func (r *Result) Summary() string {
	if r == nil || len(r.Tracks) == 0 {
		return NoMatchMessage
	}
	var b strings.Builder
	for i, t := range r.Tracks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\n  Artist: %s", t.Title, t.DisplayArtist())
		if t.Album != "" {
			fmt.Fprintf(&b, "\n  Album: %s", t.Album)
		}
		if t.Score != 0 {
			fmt.Fprintf(&b, "\n  Match Score: %d%%", t.RoundedScore())
		}
		if u := t.SpotifyURL(); u != "" {
			fmt.Fprintf(&b, "\n  Spotify: %s", u)
		}
	}
	return b.String()
}
