package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

const (
	TextCodeUpstreamFailure      = "UPSTREAM_FAILURE"
	TextCodeUpstreamUnauthorized = "UPSTREAM_UNAUTHORIZED"
	TextCodeUpstreamForbidden    = "UPSTREAM_FORBIDDEN"
	TextCodeUpstreamRateLimited  = "UPSTREAM_RATE_LIMITED"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth:
		return TextCodeUpstreamUnauthorized
	case goerrors.CategoryAuthz:
		return TextCodeUpstreamForbidden
	case goerrors.CategoryRateLimit:
		return TextCodeUpstreamRateLimited
	case goerrors.CategoryExternal:
		return TextCodeUpstreamFailure
	default:
		return core.ErrorInternal
	}
}

// StatusCode returns the upstream HTTP status recorded on a transport error, or 0.
func StatusCode(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return 0
	}
	if code, ok := rich.Metadata["status_code"].(int); ok {
		return code
	}
	return 0
}
