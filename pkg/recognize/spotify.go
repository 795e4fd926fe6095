package recognize

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// maxTracksPerLookup is the Spotify Web API limit for a several-tracks query.
const maxTracksPerLookup = 50

// SpotifyResolver completes matches that carry a Spotify track ID with the
// catalogue data of the Spotify Web API.
//
// The client must authenticate its requests; the app builds it from client
// credentials.
type SpotifyResolver struct {
	client *spotify.Client
}

// NewSpotifyResolver returns a resolver that queries client.
func NewSpotifyResolver(client *spotify.Client) *SpotifyResolver {
	return &SpotifyResolver{client: client}
}

// Resolve fills in missing title, artist, and album of every track with a
// Spotify ID and records the canonical track link. Tracks the catalogue does
// not know are left unchanged.
func (r *SpotifyResolver) Resolve(ctx context.Context, tracks []Track) error {
	var ids []spotify.ID
	for _, t := range tracks {
		if t.SpotifyID != "" && !slices.Contains(ids, t.SpotifyID) {
			ids = append(ids, t.SpotifyID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	found := make(map[spotify.ID]*spotify.FullTrack, len(ids))
	for chunk := range slices.Chunk(ids, maxTracksPerLookup) {
		full, err := r.client.GetTracks(ctx, chunk)
		if err != nil {
			return fmt.Errorf("recognize: spotify lookup: %w", err)
		}
		for _, ft := range full {
			if ft != nil {
				found[ft.ID] = ft
			}
		}
	}

	for i := range tracks {
		ft, ok := found[tracks[i].SpotifyID]
		if !ok {
			continue
		}
		complete(&tracks[i], ft)
	}
	return nil
}

func complete(t *Track, ft *spotify.FullTrack) {
	if t.Title == "" {
		t.Title = ft.Name
	}
	if t.Artist == "" && len(ft.Artists) > 0 {
		names := make([]string, len(ft.Artists))
		for i, a := range ft.Artists {
			names[i] = a.Name
		}
		t.Artist = strings.Join(names, ", ")
	}
	if t.Album == "" {
		t.Album = ft.Album.Name
	}
	if u := ft.ExternalURLs["spotify"]; u != "" {
		t.ExternalURL = u
	}
}
