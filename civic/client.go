package civic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leonardo-dashboard/leonardo/util"

	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const DefaultHost = "https://www.googleapis.com/civicinfo/v2"

// Name under which upstream calls are reported to an APIRecorder.
const APIName = "civic_api"

// No representative (or no congressional district) is associated with the address.
var ErrNotFound = errors.New("representative not found")

// The civic API could not be reached, or returned an error or an unparsable response.
var ErrUpstream = errors.New("civic API request failed")

// Non-2xx response from the civic API.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Optional collaborator which is told about every upstream request.
type APIRecorder interface {
	RecordAPICall(api string, status int, d time.Duration)
}

type Channel struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// House member for a single address, as returned by the civic API.
type Official struct {
	Name  string `json:"name"`
	Party string `json:"party"`
	// Two-letter state code, upper case.
	State string `json:"state"`
	// District number as found in the division identifier, eg "12".
	District string    `json:"district"`
	PhotoURL string    `json:"photo_url,omitempty"`
	Channels []Channel `json:"channels,omitempty"`
	URLs     []string  `json:"urls,omitempty"`
}

// Client for the representatives endpoint of the Google Civic Information API.
type Client struct {
	// API base URL, with no trailing slash
	Host   string
	APIKey string

	HTTPClient *http.Client
	// If not nil, used to rate-limit requests to Host
	Limiter *rate.Limiter
	// If not nil, records the status and duration of every request
	Recorder APIRecorder
	Logger   *slog.Logger
}

func NewClient(host, apiKey string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		Host:       strings.TrimSuffix(host, "/"),
		APIKey:     apiKey,
		HTTPClient: util.RobustHTTPClient(),
		Logger:     slog.Default().With("component", "civic"),
	}
}

type representativesQuery struct {
	Address string `url:"address"`
	Roles   string `url:"roles"`
}

type representativesResponse struct {
	Divisions map[string]json.RawMessage `json:"divisions"`
	Officials []struct {
		Name     string    `json:"name"`
		Party    string    `json:"party"`
		PhotoURL string    `json:"photoUrl"`
		Channels []Channel `json:"channels"`
		URLs     []string  `json:"urls"`
	} `json:"officials"`
}

// Fetches the House representative for a ZIP code (or any address string the API accepts).
//
// Returns an error wrapping ErrNotFound when the response has no officials or no congressional district, and one wrapping ErrUpstream (and an *HTTPError, for non-2xx responses) on any other failure.
func (c *Client) LookupRepresentative(ctx context.Context, address string) (*Official, error) {
	ctx, span := otel.Tracer("civic").Start(ctx, "LookupRepresentative")
	defer span.End()
	span.SetAttributes(attribute.String("address", address))

	params, err := query.Values(representativesQuery{
		Address: address,
		Roles:   "legislatorLowerBody",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	var body representativesResponse
	if err := c.get(ctx, "/representatives", params, &body); err != nil {
		return nil, err
	}

	if len(body.Officials) == 0 {
		return nil, fmt.Errorf("%w: no officials for %q", ErrNotFound, address)
	}
	state, district, ok := findDistrict(body.Divisions)
	if !ok {
		return nil, fmt.Errorf("%w: no congressional district for %q", ErrNotFound, address)
	}

	rep := body.Officials[0]
	return &Official{
		Name:     rep.Name,
		Party:    rep.Party,
		State:    state,
		District: district,
		PhotoURL: rep.PhotoURL,
		Channels: rep.Channels,
		URLs:     rep.URLs,
	}, nil
}

// Cheap request against the divisions endpoint, to check that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := otel.Tracer("civic").Start(ctx, "Ping")
	defer span.End()

	var body json.RawMessage
	return c.get(ctx, "/divisions", url.Values{}, &body)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit wait: %w", ErrUpstream, err)
		}
	}
	if c.APIKey != "" {
		params.Set("key", c.APIKey)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Host+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		c.record(0, time.Since(start))
		// the request URL includes the API key, so don't log the full error
		logger.Warn("civic API request failed", "path", path)
		return fmt.Errorf("%w: %s: %w", ErrUpstream, path, redactKey(err, c.APIKey))
	}
	defer resp.Body.Close()
	c.record(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.Warn("civic API returned error status", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %w", ErrUpstream, &HTTPError{StatusCode: resp.StatusCode, Body: b})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: parsing %s response: %w", ErrUpstream, path, err)
	}
	return nil
}

func (c *Client) record(status int, d time.Duration) {
	if c.Recorder != nil {
		c.Recorder.RecordAPICall(APIName, status, d)
	}
}

// Returns the first congressional district division, eg "ocd-division/country:us/state:ca/cd:12" gives ("CA", "12").
//
// Only numbered districts are recognized. At-large states (eg "ocd-division/country:us/state:ak") have no cd segment, and the DC delegate's division ("ocd-division/country:us/district:dc") has no state segment, so both report no district.
func findDistrict(divisions map[string]json.RawMessage) (string, string, bool) {
	// map iteration order is random; the API normally returns a single cd division, but be deterministic
	var best string
	for id := range divisions {
		if strings.Contains(id, "/cd:") && (best == "" || id < best) {
			best = id
		}
	}
	if best == "" {
		return "", "", false
	}

	var state, district string
	for _, part := range strings.Split(best, "/") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch k {
		case "state":
			state = strings.ToUpper(v)
		case "cd":
			district = v
		}
	}
	if state == "" || district == "" {
		return "", "", false
	}
	return state, district, true
}

func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}
