// Package erp implements the ERP provider adapter against a QuickBooks-style
// accounting API. Each sync unit is the profit-and-loss report for one month.
package erp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers"
	"github.com/goliatone/go-integrations/transport"
)

const (
	AuthURL    = "https://appcenter.intuit.com/connect/oauth2"
	TokenURL   = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	RevokeURL  = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	APIBaseURL = "https://quickbooks.api.intuit.com/v3"
)

type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
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
		RevokeURL:  RevokeURL,
		APIBaseURL: APIBaseURL,
		Scopes:     []string{"com.intuit.quickbooks.accounting", "openid", "email", "profile"},
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
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	client, err := providers.NewOAuth2Client(providers.OAuth2Config{
		Kind:           core.ProviderERP,
		AuthURL:        cfg.AuthURL,
		TokenURL:       cfg.TokenURL,
		RevokeURL:      cfg.RevokeURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
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
	}, nil
}

type companyResponse struct {
	CompanyInfo struct {
		ID          string `json:"Id"`
		CompanyName string `json:"CompanyName"`
		LegalName   string `json:"LegalName"`
		Email       struct {
			Address string `json:"Address"`
		} `json:"Email"`
	} `json:"CompanyInfo"`
}

// CallbackParams names the company id the authorization server appends to
// the callback.
func (a *Adapter) CallbackParams() []string {
	return []string{"realmId"}
}

func (a *Adapter) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	return a.FetchAccountInfoFor(ctx, accessToken, nil)
}

// FetchAccountInfoFor reads the company record for the realm in metadata,
// falling back to the token's default company when none is known.
func (a *Adapter) FetchAccountInfoFor(ctx context.Context, accessToken string, metadata map[string]any) (core.AccountInfo, error) {
	path := "/company"
	if realm := realmID(metadata); realm != "" {
		escaped := url.PathEscape(realm)
		path = "/company/" + escaped + "/companyinfo/" + escaped
	}
	var company companyResponse
	if _, err := a.api.GetJSON(ctx, path, accessToken, nil, &company); err != nil {
		return core.AccountInfo{}, core.NewAccountInfoUnavailableError(core.ProviderERP, err)
	}
	info := company.CompanyInfo
	name := strings.TrimSpace(info.CompanyName)
	if name == "" {
		name = strings.TrimSpace(info.LegalName)
	}
	account := core.AccountInfo{
		Email: strings.TrimSpace(info.Email.Address),
		Name:  name,
	}
	if id := strings.TrimSpace(info.ID); id != "" {
		account.Metadata = map[string]any{core.MetadataKeyCompanyID: id}
	}
	return account, nil
}

type reportResponse struct {
	Header struct {
		StartPeriod string `json:"StartPeriod"`
		EndPeriod   string `json:"EndPeriod"`
		Currency    string `json:"Currency"`
	} `json:"Header"`
	Rows struct {
		Row []reportRow `json:"Row"`
	} `json:"Rows"`
}

type reportRow struct {
	Group   string `json:"group"`
	Summary struct {
		ColData []struct {
			Value string `json:"value"`
		} `json:"ColData"`
	} `json:"Summary"`
}

func (a *Adapter) FetchDataUnit(ctx context.Context, conn core.Connection, period int, unitKey int) (core.UnitPayload, error) {
	start, end, err := providers.MonthRange(period, unitKey)
	if err != nil {
		return core.UnitPayload{}, err
	}
	query := map[string]string{
		"start_date": start.Format(time.DateOnly),
		"end_date":   end.AddDate(0, 0, -1).Format(time.DateOnly),
	}
	var report reportResponse
	raw, err := a.api.GetJSON(ctx, reportPath(conn), conn.AccessToken, query, &report)
	if err != nil {
		return core.UnitPayload{}, err
	}

	records := make([]map[string]any, 0, len(report.Rows.Row))
	for _, row := range report.Rows.Row {
		record := map[string]any{
			"group":    row.Group,
			"currency": report.Header.Currency,
		}
		if cols := row.Summary.ColData; len(cols) > 0 {
			record["label"] = cols[0].Value
			if len(cols) > 1 {
				record["amount"] = cols[len(cols)-1].Value
			}
		}
		records = append(records, record)
	}
	return core.UnitPayload{
		UnitKey: unitKey,
		Period:  period,
		Records: records,
		Raw:     raw,
	}, nil
}

// reportPath scopes the report to the company recorded at connect time.
func reportPath(conn core.Connection) string {
	if id := realmID(conn.Metadata); id != "" {
		return "/company/" + url.PathEscape(id) + "/reports/ProfitAndLoss"
	}
	return "/reports/ProfitAndLoss"
}

func realmID(metadata map[string]any) string {
	for _, key := range []string{"realm_id", core.MetadataKeyCompanyID} {
		if value, ok := metadata[key]; ok && value != nil {
			if id := strings.TrimSpace(fmt.Sprint(value)); id != "" {
				return id
			}
		}
	}
	return ""
}

var (
	_ core.ProviderAdapter          = (*Adapter)(nil)
	_ core.CallbackParamsProvider   = (*Adapter)(nil)
	_ core.ScopedAccountInfoFetcher = (*Adapter)(nil)
)
