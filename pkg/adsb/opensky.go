package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyspotter/overhead/pkg/geo"
)

// OpenSkyClient implements the Source interface for the OpenSky Network
// REST API. Anonymous access is rate limited server-side; authenticated
// access gets a higher quota. Either way the client throttles itself so a
// misconfigured poll interval cannot burn through the quota.
type OpenSkyClient struct {
	// baseURL is the API base URL (default: https://opensky-network.org/api)
	baseURL string

	// username/password enable HTTP basic auth when both are set
	username string
	password string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// limiter spaces out requests to stay inside the API quota
	limiter *rate.Limiter
}

// OpenSkyConfig contains configuration for the OpenSky client.
type OpenSkyConfig struct {
	BaseURL           string
	Username          string
	Password          string
	RequestsPerMinute int
	Timeout           time.Duration
}

// NewOpenSkyClient creates a new OpenSky Network API client.
func NewOpenSkyClient(cfg OpenSkyConfig) *OpenSkyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://opensky-network.org/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}

	// Allow a burst of 1: requests are evenly spaced.
	perSecond := float64(cfg.RequestsPerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	return &OpenSkyClient{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
	}
}

// FetchStates returns all state vectors inside the bounding box.
// Uses the /states/all endpoint with lamin/lomin/lamax/lomax parameters.
func (c *OpenSkyClient) FetchStates(ctx context.Context, box geo.BoundingBox) ([]StateVector, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("lamin", strconv.FormatFloat(box.MinLat, 'f', 4, 64))
	params.Set("lamax", strconv.FormatFloat(box.MaxLat, 'f', 4, 64))
	params.Set("lomin", strconv.FormatFloat(box.MinLon, 'f', 4, 64))
	params.Set("lomax", strconv.FormatFloat(box.MaxLon, 'f', 4, 64))

	reqURL := fmt.Sprintf("%s/states/all?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state vectors: %w", err)
	}
	defer resp.Body.Close()

	// Check for rate limit (HTTP 429)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "upstream rate limit exceeded",
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	// Convert to our StateVector type, skipping rows with missing position.
	states := make([]StateVector, 0, len(apiResp.States))
	for _, row := range apiResp.States {
		sv, ok := convertOpenSkyState(row, apiResp.Time)
		if !ok {
			continue
		}
		states = append(states, sv)
	}

	return states, nil
}

// Close cleanly shuts down the client. For OpenSky this is a no-op as
// there are no persistent connections.
func (c *OpenSkyClient) Close() error {
	return nil
}

// openSkyResponse represents the JSON response from /states/all.
// Each state is a positional array, not an object.
type openSkyResponse struct {
	// Time is the Unix timestamp the states refer to
	Time int64 `json:"time"`

	// States is the array of state-vector rows
	States [][]any `json:"states"`
}

// OpenSky state-vector array indices.
// https://openskynetwork.github.io/opensky-api/rest.html#all-state-vectors
const (
	osIdxICAO24       = 0
	osIdxCallsign     = 1
	osIdxTimePosition = 3
	osIdxLongitude    = 5
	osIdxLatitude     = 6
	osIdxBaroAltitude = 7
	osIdxOnGround     = 8
	osIdxVelocity     = 9
	osIdxTrueTrack    = 10
)

// convertOpenSkyState converts one positional state row to a StateVector.
// Returns ok=false when the row is unusable (no id or no position).
func convertOpenSkyState(row []any, fallbackTime int64) (StateVector, bool) {
	id, ok := stringAt(row, osIdxICAO24)
	if !ok || id == "" {
		return StateVector{}, false
	}

	lat, latOK := floatAt(row, osIdxLatitude)
	lon, lonOK := floatAt(row, osIdxLongitude)
	if !latOK || !lonOK {
		return StateVector{}, false
	}

	sv := StateVector{
		ID:        id,
		Latitude:  lat,
		Longitude: lon,
	}

	if cs, ok := stringAt(row, osIdxCallsign); ok {
		sv.Callsign = strings.TrimSpace(cs)
	}
	if alt, ok := floatAt(row, osIdxBaroAltitude); ok {
		sv.AltitudeM = alt
	}
	if gs, ok := floatAt(row, osIdxVelocity); ok {
		sv.GroundSpeedMS = gs
	}
	if track, ok := floatAt(row, osIdxTrueTrack); ok {
		sv.TrueTrackDeg = track
		sv.HasTrack = true
	}
	if og, ok := boolAt(row, osIdxOnGround); ok {
		sv.OnGround = og
	}

	if ts, ok := floatAt(row, osIdxTimePosition); ok {
		sv.Timestamp = time.Unix(int64(ts), 0).UTC()
	} else {
		sv.Timestamp = time.Unix(fallbackTime, 0).UTC()
	}

	return sv, true
}

// floatAt safely extracts a float from a positional row; JSON null and
// short rows both come back as not-ok.
func floatAt(row []any, idx int) (float64, bool) {
	if idx >= len(row) || row[idx] == nil {
		return 0, false
	}
	f, ok := row[idx].(float64)
	return f, ok
}

func stringAt(row []any, idx int) (string, bool) {
	if idx >= len(row) || row[idx] == nil {
		return "", false
	}
	s, ok := row[idx].(string)
	return s, ok
}

func boolAt(row []any, idx int) (bool, bool) {
	if idx >= len(row) || row[idx] == nil {
		return false, false
	}
	b, ok := row[idx].(bool)
	return b, ok
}

// RateLimitError represents an HTTP 429 rate limit error with retry
// information. The Poller treats it like any other fetch failure: skip
// the tick and let the fixed interval act as backoff.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	if rle, ok := err.(*RateLimitError); ok {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if the header is not present.
// Supports both delay-seconds (integer) and HTTP-date formats.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}
