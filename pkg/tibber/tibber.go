package tibber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/common"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/prices"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const defaultAPIURL = "https://api.tibber.com/v1-beta/gql"

// priceInfoQuery asks for the current hour plus everything known for today and
// tomorrow. Tomorrow is empty until the Nord Pool day-ahead auction publishes,
// usually around 13:00 CET.
const priceInfoQuery = `{
  viewer {
    homes {
      currentSubscription {
        priceInfo {
          current { total startsAt level }
          today { total startsAt level }
          tomorrow { total startsAt level }
        }
      }
    }
  }
}`

// Client fetches hourly spot prices from the Tibber GraphQL API.
type Client struct {
	apiURL   string
	apiToken string
	client   *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedSeries  prices.Series
}

// Configured sets up flags for Tibber and returns the instance.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("tibber-api-url", defaultAPIURL, "URL for the Tibber GraphQL API")
	apiToken := lflag.RequiredString("tibber-api-token", "Personal access token for the Tibber API")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.apiToken = *apiToken
	})

	return c
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("tibber-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse tibber url (%s): %w", c.apiURL, err)
	}
	if c.apiToken == "" {
		return fmt.Errorf("tibber-api-token is required")
	}
	return nil
}

type priceEntry struct {
	Total    float64 `json:"total"`
	StartsAt string  `json:"startsAt"`
	Level    string  `json:"level"`
}

type apiResponse struct {
	Data struct {
		Viewer struct {
			Homes []struct {
				CurrentSubscription *struct {
					PriceInfo struct {
						Current  *priceEntry  `json:"current"`
						Today    []priceEntry `json:"today"`
						Tomorrow []priceEntry `json:"tomorrow"`
					} `json:"priceInfo"`
				} `json:"currentSubscription"`
			} `json:"homes"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetPrices returns the normalized hourly series for today and, once
// published, tomorrow. The response is cached for 5 minutes since prices only
// change on hour boundaries and tomorrow appears once a day.
func (c *Client) GetPrices(ctx context.Context) (prices.Series, error) {
	now := time.Now()

	c.mu.Lock()
	// we only need to fetch if it's been a new 5 minute block
	if !c.lastFetchTime.IsZero() && !now.Truncate(5*time.Minute).After(c.lastFetchTime) {
		s := c.cachedSeries
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.fetchPrices(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cachedSeries = s
	c.lastFetchTime = now
	c.mu.Unlock()

	return s, nil
}

func (c *Client) fetchPrices(ctx context.Context) (prices.Series, error) {
	body, err := json.Marshal(map[string]string{"query": priceInfoQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "fetching prices from tibber", slog.String("url", c.apiURL))

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch prices", slog.Any("error", err))
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tibber api returned status: %d", resp.StatusCode)
	}

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("tibber api error: %s", res.Errors[0].Message)
	}

	homes := res.Data.Viewer.Homes
	if len(homes) == 0 || homes[0].CurrentSubscription == nil {
		return nil, fmt.Errorf("tibber response has no home with an active subscription")
	}
	info := homes[0].CurrentSubscription.PriceInfo

	entries := make([]priceEntry, 0, len(info.Today)+len(info.Tomorrow)+1)
	entries = append(entries, info.Today...)
	entries = append(entries, info.Tomorrow...)
	if info.Current != nil {
		entries = append(entries, *info.Current)
	}

	points := make([]types.PricePoint, 0, len(entries))
	for _, e := range entries {
		t, err := time.Parse(time.RFC3339, e.StartsAt)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse tibber startsAt",
				slog.String("value", e.StartsAt),
				slog.Any("error", err))
			continue
		}
		points = append(points, types.PricePoint{
			StartsAt: t,
			Total:    e.Total,
			Level:    parseLevel(e.Level),
		})
	}

	s, err := prices.Normalize(points)
	if err != nil {
		return nil, fmt.Errorf("tibber returned no usable prices: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched tibber prices",
		slog.Int("count", len(s)),
		slog.Time("earliest", s[0].StartsAt),
		slog.Time("latest", s[len(s)-1].StartsAt),
	)
	return s, nil
}

func parseLevel(s string) types.PriceLevel {
	switch s {
	case string(types.PriceLevelVeryCheap),
		string(types.PriceLevelCheap),
		string(types.PriceLevelNormal),
		string(types.PriceLevelExpensive),
		string(types.PriceLevelVeryExpensive):
		return types.PriceLevel(s)
	}
	return types.PriceLevelUnknown
}
