// Package google implements the CalendarA adapter on the Google Calendar API.
package google

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
	AuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL    = "https://oauth2.googleapis.com/token"
	RevokeURL   = "https://oauth2.googleapis.com/revoke"
	APIBaseURL  = "https://www.googleapis.com"
	UserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	maxEventPages = 20
)

type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
	APIBaseURL     string
	UserInfoURL    string
	Scopes         []string
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     transport.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		RevokeURL:   RevokeURL,
		APIBaseURL:  APIBaseURL,
		UserInfoURL: UserInfoURL,
		Scopes: []string{
			"openid",
			"email",
			"profile",
			"https://www.googleapis.com/auth/calendar.readonly",
		},
	}
}

type Adapter struct {
	*providers.OAuth2Client
	api         *providers.APIClient
	userInfoURL string
}

func New(cfg Config) (*Adapter, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaults.UserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	client, err := providers.NewOAuth2Client(providers.OAuth2Config{
		Kind:               core.ProviderCalendarA,
		AuthURL:            cfg.AuthURL,
		TokenURL:           cfg.TokenURL,
		RevokeURL:          cfg.RevokeURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		// Google only issues a refresh token on an offline, consented grant.
		AuthParams:     map[string]string{"access_type": "offline", "prompt": "consent"},
		Scopes:         cfg.Scopes,
		RequestTimeout: cfg.RequestTimeout,
		Now:            cfg.Now,
		HTTPClient:     cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		OAuth2Client: client,
		api:          providers.NewAPIClient(client.HTTPClient(), cfg.APIBaseURL, cfg.RequestTimeout),
		userInfoURL:  cfg.UserInfoURL,
	}, nil
}

type userInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (a *Adapter) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var info userInfo
	if _, err := a.api.GetJSON(ctx, a.userInfoURL, accessToken, nil, &info); err != nil {
		return core.AccountInfo{}, core.NewAccountInfoUnavailableError(core.ProviderCalendarA, err)
	}
	account := core.AccountInfo{
		Email: strings.TrimSpace(info.Email),
		Name:  strings.TrimSpace(info.Name),
	}
	if sub := strings.TrimSpace(info.Sub); sub != "" {
		account.Metadata = map[string]any{"account_id": sub}
	}
	return account, nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t eventTime) value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

type eventsResponse struct {
	Items []struct {
		ID       string    `json:"id"`
		Summary  string    `json:"summary"`
		Status   string    `json:"status"`
		Location string    `json:"location"`
		Start    eventTime `json:"start"`
		End      eventTime `json:"end"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func (a *Adapter) FetchDataUnit(ctx context.Context, conn core.Connection, period int, unitKey int) (core.UnitPayload, error) {
	start, end, err := providers.MonthRange(period, unitKey)
	if err != nil {
		return core.UnitPayload{}, err
	}

	query := map[string]string{
		"timeMin":      start.Format(time.RFC3339),
		"timeMax":      end.Format(time.RFC3339),
		"singleEvents": "true",
		"orderBy":      "startTime",
	}
	var (
		events []calendar.Event
		pages  [][]byte
	)
	for page := 0; page < maxEventPages; page++ {
		var res eventsResponse
		raw, err := a.api.GetJSON(ctx, "/calendar/v3/calendars/primary/events", conn.AccessToken, query, &res)
		if err != nil {
			return core.UnitPayload{}, err
		}
		pages = append(pages, raw)
		for _, item := range res.Items {
			events = append(events, calendar.Event{
				ID:       item.ID,
				Title:    item.Summary,
				Status:   item.Status,
				Location: item.Location,
				Start:    item.Start.value(),
				End:      item.End.value(),
			})
		}
		if res.NextPageToken == "" {
			break
		}
		query["pageToken"] = res.NextPageToken
	}
	return calendar.Payload(period, unitKey, events, pages), nil
}

var _ core.ProviderAdapter = (*Adapter)(nil)
