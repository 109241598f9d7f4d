// Package outlook implements the CalendarB adapter on Microsoft Graph.
// Graph has no token revocation endpoint, so Disconnect is local only.
package outlook

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers"
	"github.com/goliatone/go-integrations/providers/calendar"
	"github.com/goliatone/go-integrations/transport"
)

const (
	AuthURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	TokenURL   = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	APIBaseURL = "https://graph.microsoft.com/v1.0"

	maxEventPages = 20
)

type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
	APIBaseURL     string
	Scopes         []string
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     transport.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
		Scopes:     []string{"offline_access", "User.Read", "Calendars.Read"},
	}
}

type Adapter struct {
	*providers.OAuth2Client
	api *providers.APIClient
}

func New(cfg Config) (*Adapter, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	client, err := providers.NewOAuth2Client(providers.OAuth2Config{
		Kind:               core.ProviderCalendarB,
		AuthURL:            cfg.AuthURL,
		TokenURL:           cfg.TokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		AuthParams:         map[string]string{"response_mode": "query"},
		Scopes:             cfg.Scopes,
		RequestTimeout:     cfg.RequestTimeout,
		Now:                cfg.Now,
		HTTPClient:         cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		OAuth2Client: client,
		api:          providers.NewAPIClient(client.HTTPClient(), cfg.APIBaseURL, cfg.RequestTimeout),
	}, nil
}

type meResponse struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

func (a *Adapter) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var me meResponse
	if _, err := a.api.GetJSON(ctx, "/me", accessToken, nil, &me); err != nil {
		return core.AccountInfo{}, core.NewAccountInfoUnavailableError(core.ProviderCalendarB, err)
	}
	email := strings.TrimSpace(me.Mail)
	if email == "" {
		email = strings.TrimSpace(me.UserPrincipalName)
	}
	account := core.AccountInfo{Email: email, Name: strings.TrimSpace(me.DisplayName)}
	if id := strings.TrimSpace(me.ID); id != "" {
		account.Metadata = map[string]any{"account_id": id}
	}
	return account, nil
}

type graphTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type calendarViewResponse struct {
	Value []struct {
		ID       string    `json:"id"`
		Subject  string    `json:"subject"`
		ShowAs   string    `json:"showAs"`
		Start    graphTime `json:"start"`
		End      graphTime `json:"end"`
		Location struct {
			DisplayName string `json:"displayName"`
		} `json:"location"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (a *Adapter) FetchDataUnit(ctx context.Context, conn core.Connection, period int, unitKey int) (core.UnitPayload, error) {
	start, end, err := providers.MonthRange(period, unitKey)
	if err != nil {
		return core.UnitPayload{}, err
	}

	path := "/me/calendarView"
	query := map[string]string{
		"startDateTime": start.Format(time.RFC3339),
		"endDateTime":   end.Format(time.RFC3339),
	}
	var (
		events []calendar.Event
		pages  [][]byte
	)
	for page := 0; page < maxEventPages; page++ {
		var res calendarViewResponse
		raw, err := a.api.GetJSON(ctx, path, conn.AccessToken, query, &res)
		if err != nil {
			return core.UnitPayload{}, err
		}
		pages = append(pages, raw)
		for _, item := range res.Value {
			events = append(events, calendar.Event{
				ID:       item.ID,
				Title:    item.Subject,
				Status:   item.ShowAs,
				Location: item.Location.DisplayName,
				Start:    item.Start.DateTime,
				End:      item.End.DateTime,
			})
		}
		if res.NextLink == "" {
			break
		}
		// nextLink already carries the query.
		path, query = res.NextLink, nil
	}
	return calendar.Payload(period, unitKey, events, pages), nil
}

var _ core.ProviderAdapter = (*Adapter)(nil)
