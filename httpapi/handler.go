// Package httpapi exposes the integration flows over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
	integrations "github.com/goliatone/go-integrations"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	integrationsquery "github.com/goliatone/go-integrations/query"
	glog "github.com/goliatone/go-logger/glog"
)

const maxBodyBytes = 1 << 16

type Option func(*Handler)

func WithActorResolver(resolver ActorResolver) Option {
	return func(h *Handler) {
		if resolver != nil {
			h.actor = resolver
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type Handler struct {
	facade *integrations.Facade
	actor  ActorResolver
	logger glog.Logger
}

func New(facade *integrations.Facade, opts ...Option) (*Handler, error) {
	if facade == nil {
		return nil, fmt.Errorf("httpapi: facade is required")
	}
	h := &Handler{
		facade: facade,
		actor:  HeaderActorResolver(),
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes returns a router with every integration endpoint. Mount it under a
// prefix such as /integrations.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.tenantStatus)
	r.Route("/{provider}", func(r chi.Router) {
		r.Post("/connect", h.connect)
		r.Get("/callback", h.callback)
		r.Post("/disconnect", h.disconnect)
		r.Post("/sync", h.sync)
		r.Get("/status", h.connectionStatus)
		r.Put("/sync-enabled", h.setSyncEnabled)
	})
	return r
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	actor, provider, ok := h.actorAndProvider(w, r)
	if !ok {
		return
	}
	result, err := execute[integrationscommand.ConnectMessage, core.ConnectResult](r.Context(), h.facade.Commands().Connect, integrationscommand.ConnectMessage{
		Input: core.ConnectInput{
			Actor:       actor,
			Provider:    provider,
			RedirectURI: r.URL.Query().Get("redirect_uri"),
		},
	})
	if err != nil {
		h.fail(w, r, "connect", err)
		return
	}
	if result.AuthorizationURL != "" && r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, result.AuthorizationURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// callback always answers with a redirect; failures carry the public message
// in the redirect target.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	provider := core.ProviderKind(chi.URLParam(r, "provider"))
	query := r.URL.Query()
	params := map[string]string{}
	for key, values := range query {
		switch key {
		case "code", "state", "error", "error_description", "scope":
			continue
		}
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	collector := gocmd.NewResult[core.CallbackResult]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	execErr := h.facade.Commands().Callback.Execute(ctx, integrationscommand.CallbackMessage{
		Input: core.CallbackInput{
			Provider:         provider,
			Code:             query.Get("code"),
			State:            query.Get("state"),
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
			Params:           params,
		},
	})
	result, _ := collector.Load()
	if execErr != nil {
		h.logger.Warn("integration callback failed", "provider", string(provider), "error", execErr)
	}
	if result.RedirectURL == "" {
		if execErr == nil {
			execErr = errors.New("httpapi: callback produced no redirect")
		}
		writeError(w, execErr)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	actor, provider, ok := h.actorAndProvider(w, r)
	if !ok {
		return
	}
	result, err := execute[integrationscommand.DisconnectMessage, core.DisconnectResult](r.Context(), h.facade.Commands().Disconnect, integrationscommand.DisconnectMessage{
		Input: core.DisconnectInput{Actor: actor, Provider: provider},
	})
	if err != nil {
		h.fail(w, r, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	Year   int   `json:"year"`
	Months []int `json:"months"`
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	actor, provider, ok := h.actorAndProvider(w, r)
	if !ok {
		return
	}
	var body syncRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	result, err := execute[integrationscommand.SyncMessage, core.SyncResult](r.Context(), h.facade.Commands().Sync, integrationscommand.SyncMessage{
		Input: core.SyncInput{Actor: actor, Provider: provider, Period: body.Year, Units: body.Months},
	})
	if err != nil {
		h.fail(w, r, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setSyncEnabled(w http.ResponseWriter, r *http.Request) {
	actor, provider, ok := h.actorAndProvider(w, r)
	if !ok {
		return
	}
	var body syncEnabledRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, core.NewMissingParameterError("enabled"))
		return
	}
	view, err := execute[integrationscommand.SetSyncEnabledMessage, core.ConnectionView](r.Context(), h.facade.Commands().SetSyncEnabled, integrationscommand.SetSyncEnabledMessage{
		Input: core.SetSyncEnabledInput{Actor: actor, Provider: provider, Enabled: *body.Enabled},
	})
	if err != nil {
		h.fail(w, r, "set_sync_enabled", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) connectionStatus(w http.ResponseWriter, r *http.Request) {
	actor, provider, ok := h.actorAndProvider(w, r)
	if !ok {
		return
	}
	status, err := h.facade.Queries().ConnectionStatus.Query(r.Context(), integrationsquery.ConnectionStatusMessage{
		TenantID: actor.TenantID,
		Provider: provider,
	})
	if err != nil {
		h.fail(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) tenantStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	statuses, err := h.facade.Queries().TenantStatus.Query(r.Context(), integrationsquery.TenantStatusMessage{TenantID: actor.TenantID})
	if err != nil {
		h.fail(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) actorAndProvider(w http.ResponseWriter, r *http.Request) (core.Actor, core.ProviderKind, bool) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return core.Actor{}, "", false
	}
	provider, err := core.ParseProviderKind(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return core.Actor{}, "", false
	}
	return actor, provider, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	h.logger.Debug("integration request failed",
		"operation", operation,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, err)
}

type commander[T any] interface {
	Execute(ctx context.Context, msg T) error
}

// execute runs cmd and returns the result it stored on the context.
func execute[T any, R any](ctx context.Context, cmd commander[T], msg T) (R, error) {
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		var zero R
		return zero, err
	}
	result, _ := collector.Load()
	return result, nil
}

func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return badRequest("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: " + strings.TrimSpace(err.Error()))
	}
	return nil
}
