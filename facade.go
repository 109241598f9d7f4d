package integrations

import (
	"fmt"

	integrationscommand "github.com/goliatone/go-integrations/command"
	integrationsquery "github.com/goliatone/go-integrations/query"
)

type CommandQueryService interface {
	integrationscommand.MutatingService
	integrationsquery.StatusReader
	integrationsquery.SyncTargetReader
}

type Commands struct {
	Connect        *integrationscommand.ConnectCommand
	Callback       *integrationscommand.CallbackCommand
	Disconnect     *integrationscommand.DisconnectCommand
	Sync           *integrationscommand.SyncCommand
	SetSyncEnabled *integrationscommand.SetSyncEnabledCommand
}

type Queries struct {
	ConnectionStatus *integrationsquery.ConnectionStatusQuery
	TenantStatus     *integrationsquery.TenantStatusQuery
	SyncTargets      *integrationsquery.SyncTargetsQuery
}

// Facade exposes the service as go-command handlers for hosts that dispatch
// through a command bus.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	statusReader integrationsquery.StatusReader
}

// WithStatusReader serves status queries from reader instead of the service,
// e.g. a reader backed by a cached repository.
func WithStatusReader(reader integrationsquery.StatusReader) FacadeOption {
	return func(options *facadeOptions) {
		options.statusReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	var reader integrationsquery.StatusReader = service
	if cfg.statusReader != nil {
		reader = cfg.statusReader
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Connect:        integrationscommand.NewConnectCommand(service),
		Callback:       integrationscommand.NewCallbackCommand(service),
		Disconnect:     integrationscommand.NewDisconnectCommand(service),
		Sync:           integrationscommand.NewSyncCommand(service),
		SetSyncEnabled: integrationscommand.NewSetSyncEnabledCommand(service),
	}
	facade.queries = Queries{
		ConnectionStatus: integrationsquery.NewConnectionStatusQuery(reader),
		TenantStatus:     integrationsquery.NewTenantStatusQuery(reader),
		SyncTargets:      integrationsquery.NewSyncTargetsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
