package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	stations "purifier-cloud/internal/stations/domain"
)

// ErrUnavailable wraps every provider failure mode: network errors,
// non-2xx status, malformed payloads, and non-ok API status. Callers
// treat it as a soft failure.
var ErrUnavailable = errors.New("provider: station data unavailable")

// Client fetches readings from the external air-quality feed. The feed
// resolves a geographic point to its nearest monitoring station.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient constructs a provider client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("provider: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// Nearest fetches the reading of the station nearest to the point.
// Called only on the registration path, never on the scheduler's.
func (c *Client) Nearest(ctx context.Context, lat, lon float64) (*stations.Reading, error) {
	path := fmt.Sprintf("/feed/geo:%s;%s/?token=%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
		c.token,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrUnavailable, payload.Status)
	}
	if payload.Data.Idx == 0 {
		return nil, fmt.Errorf("%w: missing station idx", ErrUnavailable)
	}

	reading := &stations.Reading{
		StationID:      strconv.Itoa(payload.Data.Idx),
		CityName:       payload.Data.City.Name,
		TimezoneOffset: payload.Data.Time.TZ,
		AQI:            float64(payload.Data.AQI),
		Pollutants:     make(map[string]float64, len(payload.Data.IAQI)),
		FetchedAt:      time.Now().UTC(),
	}
	for key, value := range payload.Data.IAQI {
		if key == "t" {
			reading.Temperature = value.V
			continue
		}
		reading.Pollutants[key] = value.V
	}
	return reading, nil
}

type feedResponse struct {
	Status string   `json:"status"`
	Data   feedData `json:"data"`
}

type feedData struct {
	Idx  int                  `json:"idx"`
	AQI  jsonNumber           `json:"aqi"`
	City feedCity             `json:"city"`
	IAQI map[string]feedValue `json:"iaqi"`
	Time feedTime             `json:"time"`
}

type feedCity struct {
	Name string    `json:"name"`
	Geo  []float64 `json:"geo"`
}

type feedValue struct {
	V float64 `json:"v"`
}

type feedTime struct {
	S  string `json:"s"`
	TZ string `json:"tz"`
}

// jsonNumber tolerates the feed reporting aqi as a number or a string
// (the upstream emits "-" for stations with no current index).
type jsonNumber float64

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "-" || trimmed == "null" {
		*n = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return err
	}
	*n = jsonNumber(parsed)
	return nil
}
