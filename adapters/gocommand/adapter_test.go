package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	integrations "github.com/goliatone/go-integrations"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	integrationsquery "github.com/goliatone/go-integrations/query"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "integrations.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "integrations.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "integrations.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(integrationscommand.SyncMessage{}); err == nil {
		t.Fatalf("expected sync message without actor to fail validation")
	}
}

func TestRegisterFacadeDispatchesThroughService(t *testing.T) {
	cfg := integrations.DefaultConfig()
	cfg.MockMode = true
	cfg.StateSecret = "gocommand-test-secret"
	svc, err := integrations.NewServiceWithProviders(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := integrations.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 8 {
		t.Fatalf("expected 8 subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	if err := Dispatch(ctx, integrationscommand.ConnectMessage{Input: core.ConnectInput{
		Actor:    core.Actor{TenantID: "tenant-1", ActorID: "user-1"},
		Provider: core.ProviderCalendarA,
	}}); err != nil {
		t.Fatalf("dispatch connect: %v", err)
	}

	status, err := Query[integrationsquery.ConnectionStatusMessage, integrationsquery.ConnectionStatus](ctx, integrationsquery.ConnectionStatusMessage{
		TenantID: "tenant-1",
		Provider: core.ProviderCalendarA,
	})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if !status.Found || status.Connection.Status != core.ConnectionStatusConnected || !status.Connection.Mock {
		t.Fatalf("expected connected mock status, got %+v", status)
	}

	if _, err := RegisterFacade(adapter, nil); err == nil {
		t.Fatalf("expected nil facade to be rejected")
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !adapter.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("integrations.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegistryAdapterRequiresRegistry(t *testing.T) {
	var adapter *RegistryAdapter
	if err := adapter.RegisterCommand(nil); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	if _, err := RegisterAndSubscribe[okMessage](nil, nil); err == nil {
		t.Fatalf("expected nil adapter to fail subscription")
	}
}
