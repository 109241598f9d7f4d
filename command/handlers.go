package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

type MutatingService interface {
	Connect(ctx context.Context, in core.ConnectInput) (core.ConnectResult, error)
	Callback(ctx context.Context, in core.CallbackInput) (core.CallbackResult, error)
	Disconnect(ctx context.Context, in core.DisconnectInput) (core.DisconnectResult, error)
	Sync(ctx context.Context, in core.SyncInput) (core.SyncResult, error)
	SetSyncEnabled(ctx context.Context, in core.SetSyncEnabledInput) (core.ConnectionView, error)
}

type ConnectCommand struct {
	service MutatingService
}

func NewConnectCommand(service MutatingService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	out, err := c.service.Connect(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CallbackCommand struct {
	service MutatingService
}

func NewCallbackCommand(service MutatingService) *CallbackCommand {
	return &CallbackCommand{service: service}
}

// Execute stores the result even when the callback fails, since the failure
// result still carries the redirect the caller must follow.
func (c *CallbackCommand) Execute(ctx context.Context, msg CallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.Callback(ctx, msg.Input)
	storeResult(ctx, out)
	return err
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	out, err := c.service.Disconnect(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SyncCommand struct {
	service MutatingService
}

func NewSyncCommand(service MutatingService) *SyncCommand {
	return &SyncCommand{service: service}
}

func (c *SyncCommand) Execute(ctx context.Context, msg SyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.Sync(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetSyncEnabledCommand struct {
	service MutatingService
}

func NewSetSyncEnabledCommand(service MutatingService) *SetSyncEnabledCommand {
	return &SetSyncEnabledCommand{service: service}
}

func (c *SetSyncEnabledCommand) Execute(ctx context.Context, msg SetSyncEnabledMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync toggle service is required")
	}
	out, err := c.service.SetSyncEnabled(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[ConnectMessage]        = (*ConnectCommand)(nil)
	_ gocmd.Commander[CallbackMessage]       = (*CallbackCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]     = (*DisconnectCommand)(nil)
	_ gocmd.Commander[SyncMessage]           = (*SyncCommand)(nil)
	_ gocmd.Commander[SetSyncEnabledMessage] = (*SetSyncEnabledCommand)(nil)
)
