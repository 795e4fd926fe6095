package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/zmb3/spotify/v2"
)

const (
	// Multipart field names and the upload file name expected by the service.
	fieldAudio      = "audio"
	fieldRecordType = "recordType"
	uploadFileName  = "recording.webm"
	uploadMIME      = "audio/webm"

	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSpotify completes successful results through r before they are
// returned. Lookup failures are logged and leave the result as parsed.
func WithSpotify(r *SpotifyResolver) Option {
	return func(c *Client) {
		c.spotify = r
	}
}

// Client uploads recordings to the recognition service. It is safe for
// concurrent use and never retries.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	spotify    *SpotifyResolver
}

// New creates a Client for the recognition endpoint at url.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	c := &Client{
		endpoint:   url,
		timeout:    defaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Recognize uploads p and returns the parsed result. Every failure is a
// *[RecognitionError].
func (c *Client) Recognize(ctx context.Context, p Payload) (*Result, error) {
	body, contentType, err := encodeMultipart(p)
	if err != nil {
		return nil, &RecognitionError{Message: DefaultFailureMessage, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, &RecognitionError{Message: DefaultFailureMessage, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RecognitionError{Message: DefaultFailureMessage, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RecognitionError{
			Message:    DefaultFailureMessage,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("read response body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RecognitionError{
			Message:    errorMessage(data),
			StatusCode: resp.StatusCode,
		}
	}

	res, err := parseResult(data, p.RecordType, resp.StatusCode)
	if err != nil {
		return nil, err
	}
	if c.spotify != nil && len(res.Tracks) > 0 {
		if err := c.spotify.Resolve(ctx, res.Tracks); err != nil {
			slog.Warn("recognize: spotify lookup failed, keeping service data", "err", err)
		}
	}
	return res, nil
}

func encodeMultipart(p Payload) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldAudio, uploadFileName))
	h.Set("Content-Type", uploadMIME)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := fw.Write(p.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}

	rt := p.RecordType
	if rt == "" {
		rt = RecordAudio
	}
	if err := mw.WriteField(fieldRecordType, string(rt)); err != nil {
		return nil, "", fmt.Errorf("write record type field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// errorMessage extracts the "error" field of a failure body, falling back to
// [DefaultFailureMessage] when the body is not JSON or carries no message.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return DefaultFailureMessage
	}
	return body.Error
}

type wireResponse struct {
	Status   *Status       `json:"status"`
	Metadata *wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	Music   []wireTrack `json:"music"`
	Humming []wireTrack `json:"humming"`
}

type wireName struct {
	Name string `json:"name"`
}

type wireTrack struct {
	Title            string     `json:"title"`
	Artists          []wireName `json:"artists"`
	Album            *wireName  `json:"album"`
	Score            float64    `json:"score"`
	ExternalMetadata struct {
		Spotify *struct {
			Track struct {
				ID string `json:"id"`
			} `json:"track"`
		} `json:"spotify"`
	} `json:"external_metadata"`
}

func parseResult(data []byte, rt RecordType, statusCode int) (*Result, error) {
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, &RecognitionError{
			Message:    DefaultFailureMessage,
			StatusCode: statusCode,
			Err:        fmt.Errorf("parse JSON response: %w", err),
		}
	}

	res := &Result{}
	if wr.Status != nil {
		res.Status = *wr.Status
		if wr.Status.Code != 0 {
			msg := wr.Status.Message
			if msg == "" {
				msg = DefaultFailureMessage
			}
			return nil, &RecognitionError{
				Message:    msg,
				StatusCode: statusCode,
				Code:       wr.Status.Code,
			}
		}
	}
	if wr.Metadata == nil {
		return res, nil
	}

	res.Tracks = convertTracks(selectMatches(wr.Metadata, rt))
	return res, nil
}

// selectMatches picks the match list for the record type, falling back to the
// other list when the selected one is empty.
func selectMatches(md *wireMetadata, rt RecordType) []wireTrack {
	primary, secondary := md.Music, md.Humming
	if rt == RecordHumming {
		primary, secondary = md.Humming, md.Music
	}
	if len(primary) > 0 {
		return primary
	}
	return secondary
}

func convertTracks(in []wireTrack) []Track {
	if len(in) == 0 {
		return nil
	}
	out := make([]Track, 0, len(in))
	for _, wt := range in {
		t := Track{
			Title: wt.Title,
			Score: wt.Score,
		}
		if len(wt.Artists) > 0 {
			t.Artist = wt.Artists[0].Name
		}
		if wt.Album != nil {
			t.Album = wt.Album.Name
		}
		if sp := wt.ExternalMetadata.Spotify; sp != nil && sp.Track.ID != "" {
			t.SpotifyID = spotify.ID(sp.Track.ID)
		}
		out = append(out, t)
	}
	return out
}

// IsTransient reports whether err is a *[RecognitionError] that reflects on
// the service's health. Other errors are treated as transient.
func IsTransient(err error) bool {
	var rerr *RecognitionError
	if errors.As(err, &rerr) {
		return rerr.Transient()
	}
	return err != nil
}
