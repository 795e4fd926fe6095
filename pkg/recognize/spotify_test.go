package recognize_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zmb3/spotify/v2"

	"github.com/MrWong99/beatify/pkg/recognize"
)

// catalogue serves the several-tracks endpoint of the Spotify Web API from an
// in-memory track table and records the requested ID batches.
type catalogue struct {
	mu      sync.Mutex
	tracks  map[string]any
	batches [][]string
	fail    bool
}

func (c *catalogue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/tracks" {
		http.NotFound(w, r)
		return
	}
	ids := strings.Split(r.URL.Query().Get("ids"), ",")

	c.mu.Lock()
	c.batches = append(c.batches, ids)
	fail := c.fail
	out := make([]any, len(ids))
	for i, id := range ids {
		if t, ok := c.tracks[id]; ok {
			out[i] = t
		}
	}
	c.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"status":500,"message":"boom"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tracks": out})
}

func (c *catalogue) Batches() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

func fullTrack(id, name, artist, album string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          name,
		"artists":       []any{map[string]any{"name": artist}},
		"album":         map[string]any{"name": album},
		"external_urls": map[string]any{"spotify": "https://open.spotify.com/track/" + id + "?si=beatify"},
	}
}

func newResolver(t *testing.T, cat *catalogue) *recognize.SpotifyResolver {
	t.Helper()
	srv := httptest.NewServer(cat)
	t.Cleanup(srv.Close)
	return recognize.NewSpotifyResolver(spotify.New(srv.Client(), spotify.WithBaseURL(srv.URL+"/")))
}

func TestSpotifyResolver_CompletesTracks(t *testing.T) {
	t.Parallel()
	cat := &catalogue{tracks: map[string]any{
		"id1": fullTrack("id1", "Sura Yako", "Sauti Sol", "Midnight Train"),
	}}
	r := newResolver(t, cat)

	tracks := []recognize.Track{
		{Title: "Sura Yako (Live)", SpotifyID: "id1"},
		{Title: "Unknown to Spotify", SpotifyID: "id2"},
		{Title: "No mapping"},
		{Title: "Duplicate", SpotifyID: "id1", Artist: "Kept"},
	}
	if err := r.Resolve(context.Background(), tracks); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := cat.Batches(); len(got) != 1 || strings.Join(got[0], ",") != "id1,id2" {
		t.Errorf("batches = %v, want [[id1 id2]]", got)
	}

	first := tracks[0]
	if first.Title != "Sura Yako (Live)" {
		t.Errorf("title overwritten: %q", first.Title)
	}
	if first.Artist != "Sauti Sol" || first.Album != "Midnight Train" {
		t.Errorf("first track = %+v, want artist and album from the catalogue", first)
	}
	if want := "https://open.spotify.com/track/id1?si=beatify"; first.SpotifyURL() != want {
		t.Errorf("SpotifyURL = %q, want %q", first.SpotifyURL(), want)
	}

	if tracks[1].Artist != "" || tracks[1].SpotifyURL() != "https://open.spotify.com/track/id2" {
		t.Errorf("unknown track changed: %+v", tracks[1])
	}
	if tracks[2].ExternalURL != "" || tracks[2].SpotifyURL() != "" {
		t.Errorf("unmapped track changed: %+v", tracks[2])
	}
	if tracks[3].Artist != "Kept" || tracks[3].Album != "Midnight Train" {
		t.Errorf("duplicate track = %+v", tracks[3])
	}
}

func TestSpotifyResolver_BatchesLookups(t *testing.T) {
	t.Parallel()
	cat := &catalogue{}
	r := newResolver(t, cat)

	tracks := make([]recognize.Track, 120)
	for i := range tracks {
		tracks[i].SpotifyID = spotify.ID(fmt.Sprintf("id%03d", i))
	}
	if err := r.Resolve(context.Background(), tracks); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	batches := cat.Batches()
	if len(batches) != 3 {
		t.Fatalf("requests = %d, want 3", len(batches))
	}
	for i, want := range []int{50, 50, 20} {
		if len(batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i, len(batches[i]), want)
		}
	}
}

func TestSpotifyResolver_NoIDsSkipsLookup(t *testing.T) {
	t.Parallel()
	cat := &catalogue{}
	r := newResolver(t, cat)

	if err := r.Resolve(context.Background(), []recognize.Track{{Title: "A"}}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := len(cat.Batches()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestRecognize_WithSpotifyFillsMissingArtist(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusOK, `{
  "status": {"code": 0, "msg": "Success"},
  "metadata": {"music": [{"title": "Sura Yako", "score": 90, "external_metadata": {"spotify": {"track": {"id": "id1"}}}}]}
}`, nil)
	cat := &catalogue{tracks: map[string]any{
		"id1": fullTrack("id1", "Sura Yako", "Sauti Sol", "Midnight Train"),
	}}
	c, _ := recognize.New(srv.URL, recognize.WithSpotify(newResolver(t, cat)))

	res, err := c.Recognize(context.Background(), recognize.Payload{Audio: []byte("webm")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(res.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1", len(res.Tracks))
	}
	if got := res.Tracks[0].DisplayArtist(); got != "Sauti Sol" {
		t.Errorf("artist = %q, want Sauti Sol", got)
	}
	if got := res.Tracks[0].Album; got != "Midnight Train" {
		t.Errorf("album = %q, want Midnight Train", got)
	}
}

func TestRecognize_SpotifyFailureKeepsResult(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusOK, successBody, nil)
	cat := &catalogue{fail: true}
	c, _ := recognize.New(srv.URL, recognize.WithSpotify(newResolver(t, cat)))

	res, err := c.Recognize(context.Background(), recognize.Payload{Audio: []byte("webm")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(cat.Batches()) != 1 {
		t.Errorf("lookups = %d, want 1", len(cat.Batches()))
	}
	tr := res.Tracks[0]
	if tr.Artist != "Sauti Sol" || tr.SpotifyURL() != "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("track = %+v, want service data unchanged", tr)
	}
}
