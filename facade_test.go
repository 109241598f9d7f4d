package integrations

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	integrationsquery "github.com/goliatone/go-integrations/query"
)

func TestFacade_CommandsAndQueriesRoundTripThroughService(t *testing.T) {
	svc := newMockService(t)
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	actor := core.Actor{TenantID: "tenant-1", ActorID: "user-1", ActorName: "Ada"}

	collector := gocmd.NewResult[core.ConnectResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().Connect.Execute(ctx, integrationscommand.ConnectMessage{Input: core.ConnectInput{
		Actor:    actor,
		Provider: core.ProviderERP,
	}}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	connected, ok := collector.Load()
	if !ok || !connected.IsMock || connected.Connection == nil {
		t.Fatalf("expected mock connect result, got %+v", connected)
	}

	status, err := facade.Queries().ConnectionStatus.Query(context.Background(), integrationsquery.ConnectionStatusMessage{
		TenantID: "tenant-1",
		Provider: core.ProviderERP,
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Found || status.Connection.Status != core.ConnectionStatusConnected {
		t.Fatalf("expected connected status, got %+v", status)
	}

	targets, err := facade.Queries().SyncTargets.Query(context.Background(), integrationsquery.SyncTargetsMessage{})
	if err != nil {
		t.Fatalf("sync targets: %v", err)
	}
	if len(targets) != 1 || targets[0].Provider != core.ProviderERP {
		t.Fatalf("expected one erp sync target, got %+v", targets)
	}
}

type staticStatusReader struct {
	views map[core.ProviderKind]core.ConnectionView
}

func (r staticStatusReader) Status(_ context.Context, in core.StatusInput) (core.ConnectionView, bool, error) {
	view, ok := r.views[in.Provider]
	return view, ok, nil
}

func (r staticStatusReader) StatusAll(context.Context, string) (map[core.ProviderKind]core.ConnectionView, error) {
	return r.views, nil
}

func TestFacade_StatusReaderOverride(t *testing.T) {
	svc := newMockService(t)
	reader := staticStatusReader{views: map[core.ProviderKind]core.ConnectionView{
		core.ProviderCalendarA: {Provider: core.ProviderCalendarA, Status: core.ConnectionStatusError},
	}}
	facade, err := NewFacade(svc, WithStatusReader(reader))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	all, err := facade.Queries().TenantStatus.Query(context.Background(), integrationsquery.TenantStatusMessage{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("tenant status: %v", err)
	}
	if all[core.ProviderCalendarA].Status != core.ConnectionStatusError {
		t.Fatalf("expected override reader to serve status, got %+v", all)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service error")
	}
	var facade *Facade
	if facade.Service() != nil {
		t.Fatalf("expected nil facade to expose nil service")
	}
}
