package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/transport"
)

// APIClient issues bearer-authenticated JSON reads against a provider API.
type APIClient struct {
	rest    *transport.RESTAdapter
	baseURL string
}

func NewAPIClient(client transport.HTTPDoer, baseURL string, timeout time.Duration) *APIClient {
	rest := transport.NewRESTAdapter(client)
	rest.Timeout = timeout
	return &APIClient{rest: rest, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// GetJSON decodes the response into out and returns the raw body for archival.
// Paths beginning with a scheme are used as-is, which covers pagination links.
func (c *APIClient) GetJSON(ctx context.Context, path string, accessToken string, query map[string]string, out any) ([]byte, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	headers := map[string]string{}
	if token := strings.TrimSpace(accessToken); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	res, err := c.rest.Do(ctx, core.TransportRequest{
		Method:  http.MethodGet,
		URL:     target,
		Headers: headers,
		Query:   query,
	})
	if err != nil {
		return nil, err
	}
	if err := transport.CheckStatus(res); err != nil {
		return nil, err
	}
	if err := transport.DecodeJSON(res, out); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// MonthRange returns the half-open UTC interval covering month of year.
func MonthRange(year int, month int) (time.Time, time.Time, error) {
	if err := core.ValidateMonthUnit(month); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if year <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("providers: invalid period %d", year)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}
