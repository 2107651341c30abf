package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Client fetches reference data: boundary polygons, airport coordinates,
// and fleet registry records
type Client struct {
	httpClient    *http.Client
	boundariesURL string
	airportsURL   string
	fleetURL      string
	logger        *logger.Logger

	// Cached boundary document and its version marker
	boundaryMu   sync.RWMutex
	boundaryData *BoundaryData

	// Resolved airport coordinates; batched lookups only go out for codes
	// not already in here
	airportCache *lru.Cache[string, Coordinates]

	// Fleet registry lookups are tiny and repeat heavily per connection
	fleetMu    sync.RWMutex
	fleetCache map[string]string
}

// NewClient creates a new reference data client
func NewClient(boundariesURL, airportsURL, fleetURL string, airportCacheSize int, timeout time.Duration, loggerObj *logger.Logger) (*Client, error) {
	airportCache, err := lru.New[string, Coordinates](airportCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create airport cache: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		boundariesURL: boundariesURL,
		airportsURL:   airportsURL,
		fleetURL:      fleetURL,
		logger:        loggerObj.Named("refdata"),
		airportCache:  airportCache,
		fleetCache:    make(map[string]string),
	}, nil
}

// Boundaries returns the current boundary collection, refetching only when
// the external version marker has changed. The second return value reports
// whether the document changed since the previous call.
func (c *Client) Boundaries(ctx context.Context) (*BoundaryData, bool, error) {
	version, err := c.fetchVersion(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check boundary version: %w", err)
	}

	c.boundaryMu.RLock()
	cached := c.boundaryData
	c.boundaryMu.RUnlock()

	if cached != nil && cached.Version == version {
		return cached, false, nil
	}

	body, err := c.get(ctx, c.boundariesURL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch boundaries: %w", err)
	}

	var data BoundaryData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false, fmt.Errorf("failed to parse boundaries JSON: %w", err)
	}

	c.boundaryMu.Lock()
	c.boundaryData = &data
	c.boundaryMu.Unlock()

	c.logger.Info("Boundary data refreshed",
		logger.String("version", data.Version),
		logger.Int("firs", len(data.FIRs)),
		logger.Int("tracons", len(data.TRACONs)),
	)

	return &data, true, nil
}

func (c *Client) fetchVersion(ctx context.Context) (string, error) {
	body, err := c.get(ctx, strings.TrimRight(c.boundariesURL, "/")+"/version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// LookupAirports resolves coordinates for a batch of ICAO codes in one
// round-trip. Codes already resolved in the cache never hit the network.
// Individual misses are simply absent from the returned map.
func (c *Client) LookupAirports(ctx context.Context, codes []string) (map[string]Coordinates, error) {
	result := make(map[string]Coordinates, len(codes))

	missing := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if coords, ok := c.airportCache.Get(code); ok {
			result[code] = coords
		} else {
			missing = append(missing, code)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	lookupURL := fmt.Sprintf("%s?codes=%s", c.airportsURL, url.QueryEscape(strings.Join(missing, ",")))
	body, err := c.get(ctx, lookupURL)
	if err != nil {
		return result, fmt.Errorf("failed to fetch airport coordinates: %w", err)
	}

	var resolved map[string]Coordinates
	if err := json.Unmarshal(body, &resolved); err != nil {
		return result, fmt.Errorf("failed to parse airport lookup JSON: %w", err)
	}

	for code, coords := range resolved {
		c.airportCache.Add(code, coords)
		result[code] = coords
	}

	c.logger.Debug("Resolved airport coordinates",
		logger.Int("requested", len(missing)),
		logger.Int("resolved", len(resolved)),
	)

	return result, nil
}

// NormalizeRegistration resolves an aircraft registration token extracted
// from flight-plan remarks against the fleet registry. It tries the raw
// token first, then hyphenated variants of increasing prefix length, and
// falls back to the raw uppercased token when nothing matches.
func (c *Client) NormalizeRegistration(ctx context.Context, token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return ""
	}

	c.fleetMu.RLock()
	cached, ok := c.fleetCache[token]
	c.fleetMu.RUnlock()
	if ok {
		return cached
	}

	candidates := []string{token}
	if !strings.Contains(token, "-") {
		for i := 1; i <= 3 && i < len(token); i++ {
			candidates = append(candidates, token[:i]+"-"+token[i:])
		}
	}

	normalized := token
	for _, candidate := range candidates {
		entry, err := c.lookupFleet(ctx, candidate)
		if err != nil {
			continue
		}
		if entry != nil && entry.Registration != "" {
			normalized = entry.Registration
			break
		}
	}

	c.fleetMu.Lock()
	c.fleetCache[token] = normalized
	c.fleetMu.Unlock()

	return normalized
}

func (c *Client) lookupFleet(ctx context.Context, registration string) (*FleetEntry, error) {
	if c.fleetURL == "" {
		return nil, nil
	}

	lookupURL := fmt.Sprintf("%s?registration=%s", c.fleetURL, url.QueryEscape(registration))
	body, err := c.get(ctx, lookupURL)
	if err != nil {
		return nil, err
	}

	var entry FleetEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse fleet entry JSON: %w", err)
	}

	return &entry, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}
