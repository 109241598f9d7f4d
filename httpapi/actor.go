package httpapi

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

// ActorResolver identifies the caller of a request. Hosts plug in their own
// session or token lookup.
type ActorResolver func(r *http.Request) (core.Actor, error)

const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"

	codeUnauthenticated = "UNAUTHENTICATED"
)

// HeaderActorResolver reads the actor from request headers set by a trusted
// upstream proxy.
func HeaderActorResolver() ActorResolver {
	return func(r *http.Request) (core.Actor, error) {
		actor := core.Actor{
			TenantID:  strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			ActorID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
			ActorName: strings.TrimSpace(r.Header.Get(HeaderActorName)),
		}
		if actor.TenantID == "" || actor.ActorID == "" {
			return core.Actor{}, goerrors.New("missing actor headers", goerrors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(codeUnauthenticated)
		}
		return actor, nil
	}
}
