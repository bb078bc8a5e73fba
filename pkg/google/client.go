// Package google is a client for the Google Places (New) API: paginated text
// search and per-place detail lookups.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadpipe/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// maxPageSize is the largest pageSize the Places API accepts for text search.
	maxPageSize = 20
)

// placeFields is the per-place field list requested from both endpoints.
const placeFields = "id,displayName,formattedAddress,location,nationalPhoneNumber," +
	"internationalPhoneNumber,websiteUri,priceLevel,types,businessStatus," +
	"regularOpeningHours,googleMapsUri,rating,userRatingCount"

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
	TextSearchAll(ctx context.Context, query string, limit int) ([]Place, error)
	GetDetails(ctx context.Context, placeID string) (*Place, error)
}

// TextSearchRequest is the body of a places:searchText call.
type TextSearchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

// TextSearchResponse is one page of text search results.
type TextSearchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place is a place as returned by text search or place details.
type Place struct {
	ID                       string        `json:"id"`
	DisplayName              DisplayName   `json:"displayName"`
	FormattedAddress         string        `json:"formattedAddress,omitempty"`
	Location                 *LatLng       `json:"location,omitempty"`
	NationalPhoneNumber      string        `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string        `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string        `json:"websiteUri,omitempty"`
	PriceLevel               string        `json:"priceLevel,omitempty"`
	Types                    []string      `json:"types,omitempty"`
	BusinessStatus           string        `json:"businessStatus,omitempty"`
	RegularOpeningHours      *OpeningHours `json:"regularOpeningHours,omitempty"`
	GoogleMapsURI            string        `json:"googleMapsUri,omitempty"`
	Rating                   *float64      `json:"rating,omitempty"`
	UserRatingCount          int           `json:"userRatingCount,omitempty"`

	// Raw is the place object exactly as the API returned it.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a place and keeps a copy of the original bytes in Raw.
func (p *Place) UnmarshalJSON(data []byte) error {
	type plain Place
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Place(v)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OpeningHours holds the human-readable weekly schedule.
type OpeningHours struct {
	OpenNow             *bool    `json:"openNow,omitempty"`
	WeekdayDescriptions []string `json:"weekdayDescriptions,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. Zero or less disables the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker guards all calls with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("google", "places")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		retry:   retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	var result TextSearchResponse
	if err := c.call(ctx, http.MethodPost, "/places:searchText", body, searchFieldMask(), &result); err != nil {
		return nil, eris.Wrapf(err, "google: text search %q", req.TextQuery)
	}
	return &result, nil
}

// TextSearchAll follows nextPageToken until limit places are collected or no pages remain.
func (c *httpClient) TextSearchAll(ctx context.Context, query string, limit int) ([]Place, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		places    []Place
		pageToken string
	)
	for len(places) < limit {
		resp, err := c.TextSearch(ctx, TextSearchRequest{
			TextQuery: query,
			PageSize:  min(maxPageSize, limit-len(places)),
			PageToken: pageToken,
		})
		if err != nil {
			return nil, err
		}

		places = append(places, resp.Places...)
		if resp.NextPageToken == "" || len(resp.Places) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(places) > limit {
		places = places[:limit]
	}
	return places, nil
}

// GetDetails fetches one place. It returns (nil, nil) when the place no longer exists.
func (c *httpClient) GetDetails(ctx context.Context, placeID string) (*Place, error) {
	if placeID == "" {
		return nil, nil
	}

	var place Place
	err := c.call(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), nil, placeFields, &place)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "google: place details %s", placeID)
	}
	return &place, nil
}

// StatusError is a non-200 response from the Places API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

// call performs one API request through the limiter, retry loop and circuit breaker.
func (c *httpClient) call(ctx context.Context, method, path string, body []byte, fieldMask string, out any) error {
	attempt := func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "google: rate limit wait")
			}
		}
		if c.breaker != nil {
			return c.breaker.Execute(ctx, func(ctx context.Context) error {
				return c.do(ctx, method, path, body, fieldMask, out)
			})
		}
		return c.do(ctx, method, path, body, fieldMask, out)
	}
	return resilience.Do(ctx, c.retry, attempt)
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte, fieldMask string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(se, resp.StatusCode)
		}
		return se
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}

func searchFieldMask() string {
	fields := strings.Split(placeFields, ",")
	for i, f := range fields {
		fields[i] = "places." + f
	}
	return strings.Join(append(fields, "nextPageToken"), ",")
}
