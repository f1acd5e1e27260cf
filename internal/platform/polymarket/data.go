package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// defaultSizeThreshold filters out dust positions server-side.
const defaultSizeThreshold = 0.1

// DataClient is the REST client for the Polymarket Data API. It is read-only
// and unauthenticated; the only operation the bot needs is the positions
// listing for a wallet.
type DataClient struct {
	baseURL       string
	httpClient    *http.Client
	sizeThreshold float64
	logger        *slog.Logger
}

// NewDataClient creates a Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string, logger *slog.Logger) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		sizeThreshold: defaultSizeThreshold,
		logger:        logger.With(slog.String("component", "data_client")),
	}
}

// GetPositions fetches all current positions for the given wallet address,
// sorted by current value descending. Records that fail validation are
// logged and skipped; one bad record never poisons the whole cycle.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]domain.Position, error) {
	q := url.Values{}
	q.Set("user", user)
	q.Set("sizeThreshold", strconv.FormatFloat(c.sizeThreshold, 'f', -1, 64))
	q.Set("limit", "100")
	q.Set("sortBy", "CURRENT")
	q.Set("sortDirection", "DESC")

	reqURL := c.baseURL + "/positions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
	}

	var apiPositions []APIPosition
	if err := json.Unmarshal(respBody, &apiPositions); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", domain.ErrMalformedData)
	}

	positions := make([]domain.Position, 0, len(apiPositions))
	for i := range apiPositions {
		if err := apiPositions[i].Validate(); err != nil {
			c.logger.Warn("skipping malformed position record",
				slog.String("asset", apiPositions[i].Asset),
				slog.String("reason", err.Error()))
			continue
		}
		positions = append(positions, apiPositions[i].ToDomainPosition())
	}

	return positions, nil
}
