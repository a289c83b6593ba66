// Package google is a thin Places API (v1) client.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL    = "https://places.googleapis.com/v1"
	defaultPhotoWidth = 1200
)

// Field masks per call; Places bills by the fields requested.
const (
	SearchFieldMask  = "places.id,places.displayName,places.formattedAddress,places.rating,places.userRatingCount"
	DetailsFieldMask = "id,displayName,formattedAddress,addressComponents,nationalPhoneNumber,internationalPhoneNumber,websiteUri,location,rating,userRatingCount,priceLevel,regularOpeningHours,types,photos"
	ReviewsFieldMask = "id,reviews"
)

// Client is the subset of Places the extraction steps call.
type Client interface {
	TextSearch(ctx context.Context, query string) (*TextSearchResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*Place, error)
	Reviews(ctx context.Context, placeID string) ([]Review, error)
	PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*PhotoMedia, error)
}

// APIError is a non-200 answer. Status and Message come from Google's
// error envelope when the body has one.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google: status %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("google: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets resilience.Classify map the failure.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

func apiError(code int, body []byte) *APIError {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return &APIError{StatusCode: code, Status: env.Error.Status, Message: env.Error.Message}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}

type Option func(*httpClient)

func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithLanguage asks for names, hours and reviews in lang (BCP-47).
func WithLanguage(lang string) Option {
	return func(c *httpClient) { c.language = lang }
}

type httpClient struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
}

func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string `json:"textQuery"`
	LanguageCode string `json:"languageCode,omitempty"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string) (*TextSearchResponse, error) {
	var out TextSearchResponse
	req := textSearchRequest{TextQuery: query, LanguageCode: c.language}
	if err := c.call(ctx, http.MethodPost, "/places:searchText", nil, req, SearchFieldMask, &out); err != nil {
		return nil, eris.Wrapf(err, "google: text search %q", query)
	}
	return &out, nil
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*Place, error) {
	var p Place
	if err := c.call(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), c.langQuery(), nil, DetailsFieldMask, &p); err != nil {
		return nil, eris.Wrapf(err, "google: place details %s", placeID)
	}
	return &p, nil
}

func (c *httpClient) Reviews(ctx context.Context, placeID string) ([]Review, error) {
	var p Place
	if err := c.call(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), c.langQuery(), nil, ReviewsFieldMask, &p); err != nil {
		return nil, eris.Wrapf(err, "google: reviews %s", placeID)
	}
	return p.Reviews, nil
}

// PhotoMedia resolves a photo name to a download URI without following
// the redirect.
func (c *httpClient) PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*PhotoMedia, error) {
	if maxWidthPx <= 0 {
		maxWidthPx = defaultPhotoWidth
	}
	q := url.Values{}
	q.Set("maxWidthPx", strconv.Itoa(maxWidthPx))
	q.Set("skipHttpRedirect", "true")

	var m PhotoMedia
	if err := c.call(ctx, http.MethodGet, "/"+strings.TrimPrefix(photoName, "/")+"/media", q, nil, "", &m); err != nil {
		return nil, eris.Wrapf(err, "google: photo media %s", photoName)
	}
	return &m, nil
}

func (c *httpClient) langQuery() url.Values {
	if c.language == "" {
		return nil
	}
	return url.Values{"languageCode": {c.language}}
}

// call sends one request. in, when non-nil, is sent as a JSON body.
func (c *httpClient) call(ctx context.Context, method, path string, query url.Values, in any, fieldMask string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if fieldMask != "" {
		req.Header.Set("X-Goog-FieldMask", fieldMask)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
