// Package mock provides network-free adapters used when a provider has no
// OAuth credentials or mock mode is enabled. Payloads are deterministic so
// repeated syncs of the same unit produce identical records.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const MockCode = "mock-code"

type Adapter struct {
	kind core.ProviderKind
}

func New(kind core.ProviderKind) (*Adapter, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("mock: unknown provider kind %q", kind)
	}
	return &Adapter{kind: kind}, nil
}

func (a *Adapter) Kind() core.ProviderKind {
	return a.kind
}

func (*Adapter) Mock() bool {
	return true
}

func (a *Adapter) MockAccount() core.AccountInfo {
	return core.AccountInfo{
		Email: fmt.Sprintf("mock@%s.example", strings.ReplaceAll(string(a.kind), "_", "-")),
		Name:  fmt.Sprintf("Mock %s Account", core.ProviderDisplayName(a.kind)),
		Metadata: map[string]any{
			core.MetadataKeyMock: true,
		},
	}
}

func (a *Adapter) MockTokens() core.TokenSet {
	return core.TokenSet{
		AccessToken:  "mock-access-" + string(a.kind),
		RefreshToken: "mock-refresh-" + string(a.kind),
	}
}

// BuildAuthorizationURL points straight back at the callback with a fixed code,
// standing in for a consent screen.
func (*Adapter) BuildAuthorizationURL(_ context.Context, state string, redirectURI string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", core.NewMissingParameterError("state")
	}
	parsed, err := url.Parse(strings.TrimSpace(redirectURI))
	if err != nil {
		return "", fmt.Errorf("mock: invalid redirect uri: %w", err)
	}
	query := parsed.Query()
	query.Set("code", MockCode)
	query.Set("state", state)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (a *Adapter) ExchangeCode(_ context.Context, code string, _ string) (core.TokenSet, error) {
	if strings.TrimSpace(code) == "" {
		return core.TokenSet{}, core.NewMissingParameterError("code")
	}
	return a.MockTokens(), nil
}

func (a *Adapter) Refresh(context.Context, core.Connection) (core.TokenSet, error) {
	return a.MockTokens(), nil
}

func (a *Adapter) FetchAccountInfo(context.Context, string) (core.AccountInfo, error) {
	return a.MockAccount(), nil
}

func (a *Adapter) FetchDataUnit(_ context.Context, _ core.Connection, period int, unitKey int) (core.UnitPayload, error) {
	if err := core.ValidateMonthUnit(unitKey); err != nil {
		return core.UnitPayload{}, err
	}
	var records []map[string]any
	if a.kind == core.ProviderERP {
		records = reportRecords(period, unitKey)
	} else {
		records = eventRecords(a.kind, period, unitKey)
	}
	return core.UnitPayload{
		UnitKey: unitKey,
		Period:  period,
		Records: records,
	}, nil
}

func (*Adapter) Disconnect(context.Context, core.Connection) error {
	return nil
}

func reportRecords(period int, month int) []map[string]any {
	income := 10000 + month*250 + period%100
	expenses := 6000 + month*175
	return []map[string]any{
		{"group": "Income", "label": "Total Income", "amount": fmt.Sprintf("%d.00", income)},
		{"group": "Expenses", "label": "Total Expenses", "amount": fmt.Sprintf("%d.00", expenses)},
		{"group": "NetIncome", "label": "Net Income", "amount": fmt.Sprintf("%d.00", income-expenses)},
	}
}

func eventRecords(kind core.ProviderKind, period int, month int) []map[string]any {
	count := month%3 + 1
	records := make([]map[string]any, 0, count)
	for i := 1; i <= count; i++ {
		day := i * 7
		records = append(records, map[string]any{
			"id":     fmt.Sprintf("mock-%s-%04d%02d-%d", kind, period, month, i),
			"title":  fmt.Sprintf("Mock event %d", i),
			"status": "confirmed",
			"start":  fmt.Sprintf("%04d-%02d-%02dT09:00:00Z", period, month, day),
			"end":    fmt.Sprintf("%04d-%02d-%02dT10:00:00Z", period, month, day),
		})
	}
	return records
}

var (
	_ core.ProviderAdapter     = (*Adapter)(nil)
	_ core.MockAccountProvider = (*Adapter)(nil)
)
