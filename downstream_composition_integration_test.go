package integrations_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	integrations "github.com/goliatone/go-integrations"
	"github.com/goliatone/go-integrations/core"
)

type erpServer struct {
	mu       sync.Mutex
	revoked  []string
	reports  []string
	exchange []string
}

func (s *erpServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		s.mu.Lock()
		s.exchange = append(s.exchange, r.PostForm.Get("code"))
		s.mu.Unlock()
		if r.PostForm.Get("redirect_uri") != "https://app.test/erp/callback" {
			t.Errorf("unexpected redirect_uri %q", r.PostForm.Get("redirect_uri"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"bearer"}`))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.mu.Lock()
		s.revoked = append(s.revoked, r.PostForm.Get("token"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/company/9130/companyinfo/9130", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			t.Errorf("expected bearer token on company lookup")
		}
		_, _ = w.Write([]byte(`{"CompanyInfo":{"Id":"9130","CompanyName":"Acme Books","Email":{"Address":"books@acme.test"}}}`))
	})
	mux.HandleFunc("/v3/company/9130/reports/ProfitAndLoss", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.reports = append(s.reports, r.URL.Query().Get("start_date"))
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"Header":{"Currency":"USD"},"Rows":{"Row":[{"group":"Income","Summary":{"ColData":[{"value":"Total Income"},{"value":"1200.00"}]}}]}}`))
	})
	return mux
}

type capturingSink struct {
	mu       sync.Mutex
	payloads []core.UnitPayload
}

func (s *capturingSink) Store(_ context.Context, _ core.Connection, payload core.UnitPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func TestDownstreamComposition_ERPAuthorizationRoundTrip(t *testing.T) {
	remote := &erpServer{}
	server := httptest.NewServer(remote.handler(t))
	defer server.Close()

	cfg := integrations.DefaultConfig()
	cfg.StateSecret = "downstream-secret"
	cfg.Sync.OnConnect = false
	cfg.Callback.SuccessURL = "https://app.test/settings/integrations"
	cfg.Callback.FailureURL = "https://app.test/settings/integrations?error=1"
	cfg.Providers.ERP = integrations.ProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "https://app.test/erp/callback",
		AuthURL:      server.URL + "/authorize",
		TokenURL:     server.URL + "/token",
		RevokeURL:    server.URL + "/revoke",
		APIBaseURL:   server.URL + "/v3",
	}

	audit := core.NewMemoryAuditEmitter()
	sink := &capturingSink{}
	svc, err := integrations.NewServiceWithProviders(cfg, nil,
		[]integrations.BuildOption{integrations.WithHTTPClient(server.Client())},
		integrations.WithAuditEmitter(audit),
		integrations.WithUnitSink(sink),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	actor := integrations.Actor{TenantID: "tenant-1", ActorID: "user-1", ActorName: "Ada"}

	connect, err := svc.Connect(ctx, integrations.ConnectInput{Actor: actor, Provider: integrations.ProviderERP})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if connect.IsMock || !strings.HasPrefix(connect.AuthorizationURL, server.URL+"/authorize?") {
		t.Fatalf("expected remote authorization url, got %+v", connect)
	}
	authURL, err := url.Parse(connect.AuthorizationURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	state := authURL.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in authorization url")
	}

	callback, err := svc.Callback(ctx, integrations.CallbackInput{
		Provider: integrations.ProviderERP,
		Code:     "code-1",
		State:    state,
		Params:   map[string]string{"realmId": "9130"},
	})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !callback.Success || callback.TenantID != "tenant-1" {
		t.Fatalf("unexpected callback result %+v", callback)
	}
	if !strings.HasPrefix(callback.RedirectURL, cfg.Callback.SuccessURL) {
		t.Fatalf("expected success redirect, got %q", callback.RedirectURL)
	}
	if callback.Connection == nil || callback.Connection.AccountName != "Acme Books" {
		t.Fatalf("expected enriched connection, got %+v", callback.Connection)
	}

	if _, err := svc.Callback(ctx, integrations.CallbackInput{
		Provider: integrations.ProviderERP,
		Code:     "code-2",
		State:    state,
	}); err == nil {
		t.Fatalf("expected replayed state to be rejected")
	}

	synced, err := svc.Sync(ctx, integrations.SyncInput{
		Actor:    actor,
		Provider: integrations.ProviderERP,
		Period:   2024,
		Units:    []int{1, 2},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !synced.Success || synced.Synced != 2 || synced.Status != core.SyncStatusSuccess {
		t.Fatalf("unexpected sync result %+v", synced)
	}
	if len(sink.payloads) != 2 {
		t.Fatalf("expected two stored payloads, got %d", len(sink.payloads))
	}

	view, found, err := svc.Status(ctx, integrations.StatusInput{TenantID: "tenant-1", Provider: integrations.ProviderERP})
	if err != nil || !found {
		t.Fatalf("status: found=%v err=%v", found, err)
	}
	if view.Status != core.ConnectionStatusConnected || view.LastSyncStatus != core.SyncStatusSuccess || view.LastSyncAt == nil {
		t.Fatalf("unexpected status view %+v", view)
	}

	disconnected, err := svc.Disconnect(ctx, integrations.DisconnectInput{Actor: actor, Provider: integrations.ProviderERP})
	if err != nil || !disconnected.Success {
		t.Fatalf("disconnect: %+v err=%v", disconnected, err)
	}
	view, _, err = svc.Status(ctx, integrations.StatusInput{TenantID: "tenant-1", Provider: integrations.ProviderERP})
	if err != nil {
		t.Fatalf("status after disconnect: %v", err)
	}
	if view.Status != core.ConnectionStatusDisconnected {
		t.Fatalf("expected disconnected, got %s", view.Status)
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.exchange) != 1 || remote.exchange[0] != "code-1" {
		t.Fatalf("expected one code exchange, got %v", remote.exchange)
	}
	if len(remote.reports) != 2 || remote.reports[0] != "2024-01-01" {
		t.Fatalf("unexpected report requests %v", remote.reports)
	}
	if len(remote.revoked) != 1 || remote.revoked[0] != "rt-1" {
		t.Fatalf("expected refresh token revocation, got %v", remote.revoked)
	}

	want := []string{"erp.connected", "erp.synced", "erp.disconnected"}
	got := audit.Actions()
	if len(got) != len(want) {
		t.Fatalf("expected audit actions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected audit actions %v, got %v", want, got)
		}
	}
}
