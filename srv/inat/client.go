// Package inat provides a client for the iNaturalist observations API.
package inat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/metrics"
)

const (
	DefaultBaseURL = "https://api.inaturalist.org/v1"
	defaultTimeout = 30 * time.Second
	userAgent      = "wildspan/1.0"
	maxAttempts    = 4
	maxPhotoBytes  = 32 << 20
)

// Common errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrServerError   = errors.New("server error")
	ErrBadRequest    = errors.New("bad request")
	ErrPhotoTooLarge = errors.New("photo exceeds size limit")
)

// Client is an iNaturalist API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit limits outgoing requests to rps per second. Zero or negative
// disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBackoff sets the initial retry delay; it doubles after each attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query selects a page of observations.
type Query struct {
	TaxonName    string
	QualityGrade string
	PerPage      int
	Page         int
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.TaxonName != "" {
		v.Set("taxon_name", q.TaxonName)
	}
	if q.QualityGrade != "" {
		v.Set("quality_grade", q.QualityGrade)
	}
	v.Set("photos", "true")
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	return v
}

// Taxon is the identification attached to an observation.
type Taxon struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Rank                string `json:"rank"`
	PreferredCommonName string `json:"preferred_common_name"`
}

// Photo is one observation photo. URL points at the square thumbnail.
type Photo struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	LicenseCode string `json:"license_code"`
	Attribution string `json:"attribution"`
}

// Observation is the typed view of an API result. Coordinates are not decoded
// here; they are resolved from Raw.
type Observation struct {
	ID                 int64    `json:"id"`
	Taxon              *Taxon   `json:"taxon"`
	Photos             []Photo  `json:"photos"`
	ObservedOn         string   `json:"observed_on"`
	URI                string   `json:"uri"`
	QualityGrade       string   `json:"quality_grade"`
	PositionalAccuracy *float64 `json:"positional_accuracy"`
	PublicPositional   *float64 `json:"public_positional_accuracy"`
	Geoprivacy         *string  `json:"geoprivacy"`
	Obscured           bool     `json:"obscured"`
	LicenseCode        string   `json:"license_code"`

	// Raw is the undecoded record handed to the coordinate resolver.
	Raw coords.RawObservation `json:"-"`
}

// ScientificName returns the taxon name or "" when the observation has no taxon.
func (o *Observation) ScientificName() string {
	if o.Taxon == nil {
		return ""
	}
	return o.Taxon.Name
}

// CommonName returns the taxon's preferred common name, if any.
func (o *Observation) CommonName() string {
	if o.Taxon == nil {
		return ""
	}
	return o.Taxon.PreferredCommonName
}

// FirstPhoto returns the first photo, or false when there is none with a URL.
func (o *Observation) FirstPhoto() (Photo, bool) {
	if len(o.Photos) == 0 || o.Photos[0].URL == "" {
		return Photo{}, false
	}
	return o.Photos[0], true
}

// ObservationPage is one page of search results.
type ObservationPage struct {
	TotalResults int
	Page         int
	PerPage      int
	Results      []Observation
	// Malformed counts results that could not be decoded and were dropped.
	Malformed int
}

type pageResponse struct {
	TotalResults int               `json:"total_results"`
	Page         int               `json:"page"`
	PerPage      int               `json:"per_page"`
	Results      []json.RawMessage `json:"results"`
}

// ListObservations fetches one page of observations.
func (c *Client) ListObservations(ctx context.Context, q Query) (page *ObservationPage, err error) {
	defer metrics.Time("list_observations")(&err)

	endpoint := c.baseURL + "/observations?" + q.values().Encode()
	body, err := c.get(ctx, endpoint, "application/json", 0)
	if err != nil {
		return nil, fmt.Errorf("list observations page %d: %w", q.Page, err)
	}

	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	page = &ObservationPage{
		TotalResults: resp.TotalResults,
		Page:         resp.Page,
		PerPage:      resp.PerPage,
		Results:      make([]Observation, 0, len(resp.Results)),
	}
	for _, msg := range resp.Results {
		obs, err := decodeObservation(msg)
		if err != nil {
			page.Malformed++
			continue
		}
		page.Results = append(page.Results, obs)
	}
	return page, nil
}

func decodeObservation(msg json.RawMessage) (Observation, error) {
	var obs Observation
	if err := json.Unmarshal(msg, &obs); err != nil {
		return Observation{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Observation{}, err
	}
	obs.Raw = coords.RawObservation(raw)
	return obs, nil
}

// FetchPhoto downloads a photo.
func (c *Client) FetchPhoto(ctx context.Context, photoURL string) (data []byte, err error) {
	defer metrics.Time("fetch_photo")(&err)

	data, err = c.get(ctx, photoURL, "image/*", maxPhotoBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch photo %s: %w", photoURL, err)
	}
	return data, nil
}

// MediumPhotoURL rewrites a square thumbnail URL to the medium size.
func MediumPhotoURL(squareURL string) string {
	return strings.Replace(squareURL, "square", "medium", 1)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.code, e.body)
}

// Unwrap maps the status to one of the package sentinels.
func (e *statusError) Unwrap() error {
	switch {
	case e.code == http.StatusNotFound:
		return ErrNotFound
	case e.code == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.code == http.StatusBadRequest || e.code == http.StatusUnprocessableEntity:
		return ErrBadRequest
	case e.code >= 500:
		return ErrServerError
	}
	return nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// get performs a paced GET, retrying transient failures with exponential
// backoff. limit caps the body size when positive.
func (c *Client) get(ctx context.Context, endpoint, accept string, limit int64) ([]byte, error) {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.do(ctx, endpoint, accept, limit)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint, accept string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrPhotoTooLarge
	}
	return body, nil
}
