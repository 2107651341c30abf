package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Client is responsible for fetching the datafeed snapshot and the
// companion transceivers document
type Client struct {
	httpClient      *http.Client
	url             string
	transceiversURL string
	apiToken        string
	logger          *logger.Logger
}

// NewClient creates a new feed client
func NewClient(url, transceiversURL, apiToken string, timeout time.Duration, loggerObj *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url:             url,
		transceiversURL: transceiversURL,
		apiToken:        apiToken,
		logger:          loggerObj.Named("feed-cli"),
	}
}

// Fetch pulls one full snapshot plus transceivers. A transceivers failure is
// not fatal: controller geo-assignment degrades to trivial assignment, so the
// snapshot is returned with an empty transceiver map.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	snapshot, err := c.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	transceivers, err := c.fetchTransceivers(ctx)
	if err != nil {
		c.logger.Warn("Failed to fetch transceivers, continuing without them", logger.Error(err))
		transceivers = TransceiverMap{}
	}
	snapshot.Transceivers = transceivers

	c.logger.Debug("Fetched feed snapshot",
		logger.Int("pilots", len(snapshot.Pilots)),
		logger.Int("controllers", len(snapshot.Controllers)),
		logger.Int("atis", len(snapshot.ATIS)),
		logger.Int("transceiver_callsigns", len(transceivers)),
	)

	return snapshot, nil
}

func (c *Client) fetchSnapshot(ctx context.Context) (*Snapshot, error) {
	body, err := c.get(ctx, c.url)
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse feed JSON: %w", err)
	}

	return &snapshot, nil
}

func (c *Client) fetchTransceivers(ctx context.Context) (TransceiverMap, error) {
	if c.transceiversURL == "" {
		return TransceiverMap{}, nil
	}

	body, err := c.get(ctx, c.transceiversURL)
	if err != nil {
		return nil, err
	}

	var sets []TransceiverSet
	if err := json.Unmarshal(body, &sets); err != nil {
		return nil, fmt.Errorf("failed to parse transceivers JSON: %w", err)
	}

	result := make(TransceiverMap, len(sets))
	for _, set := range sets {
		result[set.Callsign] = set.Transceivers
	}

	return result, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}
