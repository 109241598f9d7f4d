package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

type stubMutatingService struct {
	connectFn    func(context.Context, core.ConnectInput) (core.ConnectResult, error)
	callbackFn   func(context.Context, core.CallbackInput) (core.CallbackResult, error)
	disconnectFn func(context.Context, core.DisconnectInput) (core.DisconnectResult, error)
	syncFn       func(context.Context, core.SyncInput) (core.SyncResult, error)
	toggleFn     func(context.Context, core.SetSyncEnabledInput) (core.ConnectionView, error)
}

func (s stubMutatingService) Connect(ctx context.Context, in core.ConnectInput) (core.ConnectResult, error) {
	return s.connectFn(ctx, in)
}

func (s stubMutatingService) Callback(ctx context.Context, in core.CallbackInput) (core.CallbackResult, error) {
	return s.callbackFn(ctx, in)
}

func (s stubMutatingService) Disconnect(ctx context.Context, in core.DisconnectInput) (core.DisconnectResult, error) {
	return s.disconnectFn(ctx, in)
}

func (s stubMutatingService) Sync(ctx context.Context, in core.SyncInput) (core.SyncResult, error) {
	return s.syncFn(ctx, in)
}

func (s stubMutatingService) SetSyncEnabled(ctx context.Context, in core.SetSyncEnabledInput) (core.ConnectionView, error) {
	return s.toggleFn(ctx, in)
}

func TestConnectCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.ConnectResult{Success: true, AuthorizationURL: "https://example.com/auth"}
	svc := stubMutatingService{
		connectFn: func(_ context.Context, in core.ConnectInput) (core.ConnectResult, error) {
			if in.Provider != core.ProviderERP || in.Actor.TenantID != "t1" {
				t.Fatalf("unexpected input %+v", in)
			}
			return expected, nil
		},
	}

	collector := gocmd.NewResult[core.ConnectResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewConnectCommand(svc).Execute(ctx, ConnectMessage{Input: core.ConnectInput{
		Actor:    core.Actor{TenantID: "t1", ActorID: "u1"},
		Provider: core.ProviderERP,
	}})
	if err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.AuthorizationURL != expected.AuthorizationURL {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCallbackCommand_StoresFailureResult(t *testing.T) {
	failure := errors.New("boom")
	svc := stubMutatingService{
		callbackFn: func(context.Context, core.CallbackInput) (core.CallbackResult, error) {
			return core.CallbackResult{Success: false, RedirectURL: "/settings?status=error"}, failure
		},
	}

	collector := gocmd.NewResult[core.CallbackResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewCallbackCommand(svc).Execute(ctx, CallbackMessage{Input: core.CallbackInput{Provider: core.ProviderCalendarA}})
	if !errors.Is(err, failure) {
		t.Fatalf("expected callback error, got %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.RedirectURL == "" {
		t.Fatalf("expected failure redirect to be stored, got %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	actor := core.Actor{TenantID: "t1", ActorID: "u1"}

	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, in core.DisconnectInput) (core.DisconnectResult, error) {
				called = true
				return core.DisconnectResult{Success: true}, nil
			},
		}
		if err := NewDisconnectCommand(svc).Execute(context.Background(), DisconnectMessage{Input: core.DisconnectInput{Actor: actor, Provider: core.ProviderERP}}); err != nil {
			t.Fatalf("disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("sync", func(t *testing.T) {
		collector := gocmd.NewResult[core.SyncResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		svc := stubMutatingService{
			syncFn: func(_ context.Context, in core.SyncInput) (core.SyncResult, error) {
				if in.Period != 2024 || len(in.Units) != 2 {
					t.Fatalf("unexpected sync input %+v", in)
				}
				return core.SyncResult{Success: true, Synced: 2}, nil
			},
		}
		msg := SyncMessage{Input: core.SyncInput{Actor: actor, Provider: core.ProviderERP, Period: 2024, Units: []int{1, 2}}}
		if err := NewSyncCommand(svc).Execute(ctx, msg); err != nil {
			t.Fatalf("sync: %v", err)
		}
		if result, ok := collector.Load(); !ok || result.Synced != 2 {
			t.Fatalf("unexpected sync result %#v", result)
		}
	})

	t.Run("toggle", func(t *testing.T) {
		svc := stubMutatingService{
			toggleFn: func(_ context.Context, in core.SetSyncEnabledInput) (core.ConnectionView, error) {
				return core.ConnectionView{SyncEnabled: in.Enabled}, nil
			},
		}
		collector := gocmd.NewResult[core.ConnectionView]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		msg := SetSyncEnabledMessage{Input: core.SetSyncEnabledInput{Actor: actor, Provider: core.ProviderCalendarB, Enabled: true}}
		if err := NewSetSyncEnabledCommand(svc).Execute(ctx, msg); err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if view, ok := collector.Load(); !ok || !view.SyncEnabled {
			t.Fatalf("expected enabled view, got %#v", view)
		}
	})
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
	}{
		{name: "connect missing tenant", err: ConnectMessage{}.Validate(), textCode: core.ErrorMissingParameter},
		{name: "callback missing provider", err: CallbackMessage{}.Validate(), textCode: core.ErrorMissingParameter},
		{
			name:     "sync unknown provider",
			err:      SyncMessage{Input: core.SyncInput{Actor: core.Actor{TenantID: "t1"}, Provider: "nope"}}.Validate(),
			textCode: core.ErrorUnknownProvider,
		},
		{
			name:     "sync negative period",
			err:      SyncMessage{Input: core.SyncInput{Actor: core.Actor{TenantID: "t1"}, Provider: core.ProviderERP, Period: -1}}.Validate(),
			textCode: core.ErrorMissingParameter,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tc.err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", tc.err)
			}
			if rich.TextCode != tc.textCode {
				t.Fatalf("expected %s, got %s", tc.textCode, rich.TextCode)
			}
		})
	}

	valid := DisconnectMessage{Input: core.DisconnectInput{Actor: core.Actor{TenantID: "t1"}, Provider: core.ProviderERP}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ConnectCommand
	err := cmd.Execute(context.Background(), ConnectMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
