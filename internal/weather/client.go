package weather

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Client fetches the two compressed weather documents
type Client struct {
	httpClient *http.Client
	metarURL   string
	tafURL     string
	logger     *logger.Logger
}

// NewClient creates a new weather client
func NewClient(metarURL, tafURL string, timeout time.Duration, loggerObj *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metarURL: metarURL,
		tafURL:   tafURL,
		logger:   loggerObj.Named("wx-cli"),
	}
}

// FetchMETARs downloads and parses the current-weather document into a
// station -> raw text map
func (c *Client) FetchMETARs(ctx context.Context) (StationText, error) {
	body, err := c.getGzipped(ctx, c.metarURL)
	if err != nil {
		return nil, err
	}

	var collection metarCollection
	if err := xml.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse METAR XML: %w", err)
	}

	result := make(StationText, len(collection.Data.METARs))
	for _, entry := range collection.Data.METARs {
		if entry.StationID != "" && entry.RawText != "" {
			result[entry.StationID] = entry.RawText
		}
	}

	c.logger.Debug("Fetched METAR document", logger.Int("stations", len(result)))
	return result, nil
}

// FetchTAFs downloads and parses the forecast document into a
// station -> raw text map
func (c *Client) FetchTAFs(ctx context.Context) (StationText, error) {
	body, err := c.getGzipped(ctx, c.tafURL)
	if err != nil {
		return nil, err
	}

	var collection tafCollection
	if err := xml.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse TAF XML: %w", err)
	}

	result := make(StationText, len(collection.Data.TAFs))
	for _, entry := range collection.Data.TAFs {
		if entry.StationID != "" && entry.RawText != "" {
			result[entry.StationID] = entry.RawText
		}
	}

	c.logger.Debug("Fetched TAF document", logger.Int("stations", len(result)))
	return result, nil
}

func (c *Client) getGzipped(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	body, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response body: %w", err)
	}

	return body, nil
}
