// Package share sends a recognized track to a phone number through the
// remote SMS-sharing service.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/beatify/pkg/recognize"
)

const (
	// DefaultFailureMessage is used when the service gives no reason.
	DefaultFailureMessage = "Failed to send SMS"

	// MissingNumberMessage is reported when no phone number was supplied.
	MissingNumberMessage = "Please enter a phone number"

	// unknownArtist is the artist placeholder inside the SMS text.
	unknownArtist = "Unknown Artist"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// ShareError is returned for every failed share. It is never retried.
type ShareError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ShareError) Error() string { return "share: " + e.Message }

func (e *ShareError) Unwrap() error { return e.Err }

var (
	// ErrEmptyURL is returned by [New] when no endpoint is given.
	ErrEmptyURL = errors.New("share: endpoint URL must not be empty")

	// ErrMissingNumber is wrapped by the [ShareError] for an empty phone number.
	ErrMissingNumber = errors.New("share: missing phone number")

	// ErrRateLimited is wrapped by the [ShareError] returned when shares
	// arrive faster than the configured rate.
	ErrRateLimited = errors.New("share: rate limited")
)

// Message renders the SMS text for t.
func Message(t recognize.Track) string {
	artist := t.Artist
	if artist == "" {
		artist = unknownArtist
	}
	msg := fmt.Sprintf("Checki hii ngoma noma: %s by %s", t.Title, artist)
	if t.Album != "" {
		msg += " from the album " + t.Album
	}
	return msg
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRatePerMinute limits how many shares may be sent per minute, with a
// burst of the same size. Zero or negative disables limiting.
func WithRatePerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// Client posts share requests to the SMS service.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client for the SMS endpoint at url.
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

type request struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type response struct {
	Error string `json:"error"`
}

// Share sends the message for t to phoneNumber. Every failure is a
// *[ShareError].
func (c *Client) Share(ctx context.Context, phoneNumber string, t recognize.Track) error {
	return c.Send(ctx, phoneNumber, Message(t))
}

// Send posts an arbitrary message to phoneNumber.
func (c *Client) Send(ctx context.Context, phoneNumber, message string) error {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return &ShareError{Message: MissingNumberMessage, Err: ErrMissingNumber}
	}

	if c.limiter != nil && !c.limiter.Allow() {
		return &ShareError{Message: "Too many shares, please wait a moment", Err: ErrRateLimited}
	}

	payload, err := json.Marshal(request{PhoneNumber: phoneNumber, Message: message})
	if err != nil {
		return &ShareError{Message: DefaultFailureMessage, Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &ShareError{Message: DefaultFailureMessage, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ShareError{Message: DefaultFailureMessage, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &ShareError{Message: DefaultFailureMessage, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	var body response
	// A body that is not JSON only matters for failed requests.
	_ = json.Unmarshal(data, &body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := body.Error
		if msg == "" {
			msg = DefaultFailureMessage
		}
		return &ShareError{Message: msg, StatusCode: resp.StatusCode}
	}
	if body.Error != "" {
		return &ShareError{Message: body.Error, StatusCode: resp.StatusCode}
	}
	return nil
}
