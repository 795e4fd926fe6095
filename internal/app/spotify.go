package app

import (
	"context"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MrWong99/beatify/internal/config"
	"github.com/MrWong99/beatify/pkg/recognize"
)

// newSpotifyResolver returns a catalogue resolver authenticated with the
// client-credentials flow, or nil when no credentials are configured. Tokens
// are fetched lazily on the first lookup and outlive cancellation of ctx.
func newSpotifyResolver(ctx context.Context, cfg config.SpotifyConfig) *recognize.SpotifyResolver {
	if !cfg.Enabled() {
		return nil
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return recognize.NewSpotifyResolver(spotify.New(cc.Client(context.WithoutCancel(ctx))))
}
