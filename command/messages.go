package command

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeConnect        = "integrations.command.connect"
	TypeCallback       = "integrations.command.callback"
	TypeDisconnect     = "integrations.command.disconnect"
	TypeSync           = "integrations.command.sync"
	TypeSetSyncEnabled = "integrations.command.sync_enabled.set"
)

type ConnectMessage struct {
	Input core.ConnectInput
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	return validateActorProvider(m.Input.Actor, m.Input.Provider)
}

type CallbackMessage struct {
	Input core.CallbackInput
}

func (CallbackMessage) Type() string { return TypeCallback }

// Validate only requires a provider. An unknown provider still reaches the
// service so the caller gets a failure redirect.
func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(string(m.Input.Provider)) == "" {
		return commandValidationError("provider", "is required")
	}
	return nil
}

type DisconnectMessage struct {
	Input core.DisconnectInput
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return validateActorProvider(m.Input.Actor, m.Input.Provider)
}

type SyncMessage struct {
	Input core.SyncInput
}

func (SyncMessage) Type() string { return TypeSync }

func (m SyncMessage) Validate() error {
	if err := validateActorProvider(m.Input.Actor, m.Input.Provider); err != nil {
		return err
	}
	if m.Input.Period < 0 {
		return commandValidationError("period", "must not be negative")
	}
	return nil
}

type SetSyncEnabledMessage struct {
	Input core.SetSyncEnabledInput
}

func (SetSyncEnabledMessage) Type() string { return TypeSetSyncEnabled }

func (m SetSyncEnabledMessage) Validate() error {
	return validateActorProvider(m.Input.Actor, m.Input.Provider)
}

func validateActorProvider(actor core.Actor, provider core.ProviderKind) error {
	if strings.TrimSpace(actor.TenantID) == "" {
		return commandValidationError("tenant_id", "is required")
	}
	return validateProvider(provider)
}

func validateProvider(provider core.ProviderKind) error {
	if strings.TrimSpace(string(provider)) == "" {
		return commandValidationError("provider", "is required")
	}
	if _, err := core.ParseProviderKind(string(provider)); err != nil {
		return commandWrapValidation(err, "command: invalid provider")
	}
	return nil
}
