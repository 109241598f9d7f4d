package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorMissingParameter            = "MISSING_PARAMETER"
	ErrorInvalidState                = "INVALID_STATE"
	ErrorProviderAuthorizationDenied = "PROVIDER_AUTHORIZATION_DENIED"
	ErrorTokenExchangeFailure        = "TOKEN_EXCHANGE_FAILURE"
	ErrorAccountInfoUnavailable      = "ACCOUNT_INFO_UNAVAILABLE"
	ErrorConnectionExpired           = "CONNECTION_EXPIRED"
	ErrorSyncUnitFailure             = "SYNC_UNIT_FAILURE"
	ErrorConnectionNotFound          = "CONNECTION_NOT_FOUND"
	ErrorInvalidConnectionState      = "INVALID_CONNECTION_STATE"
	ErrorUnknownProvider             = "UNKNOWN_PROVIDER"
	ErrorForbidden                   = "FORBIDDEN"
	ErrorSyncDisabled                = "SYNC_DISABLED"
	ErrorRateLimited                 = "RATE_LIMITED"
	ErrorBadInput                    = "BAD_INPUT"
	ErrorInternal                    = "INTERNAL_ERROR"
)

var (
	ErrLockerClosed   = errors.New("core: keyed locker is closed")
	ErrStoreNotReady  = errors.New("core: connection store is not configured")
	ErrNonceReplayed  = errors.New("core: state nonce already used")
	ErrInvalidUnitKey = errors.New("core: unit key out of range")
)

var publicMessages = map[string]string{
	ErrorMissingParameter:            "A required parameter is missing.",
	ErrorInvalidState:                "Invalid state. Please start the connection again.",
	ErrorProviderAuthorizationDenied: "Authorization was denied by the provider.",
	ErrorTokenExchangeFailure:        "Failed to complete the connection with the provider.",
	ErrorAccountInfoUnavailable:      "Account details are unavailable.",
	ErrorConnectionExpired:           "The connection has expired. Please reconnect.",
	ErrorSyncUnitFailure:             "Failed to sync data.",
	ErrorConnectionNotFound:          "No connection found.",
	ErrorInvalidConnectionState:      "The connection is in an invalid state.",
	ErrorUnknownProvider:             "Unknown integration provider.",
	ErrorForbidden:                   "You are not allowed to manage this integration.",
	ErrorSyncDisabled:                "Sync is disabled for this connection.",
	ErrorRateLimited:                 "The provider is rate limiting requests. Try again later.",
	ErrorBadInput:                    "The request is invalid.",
	ErrorInternal:                    "An unexpected error occurred.",
}

func NewMissingParameterError(field string) *goerrors.Error {
	field = strings.TrimSpace(field)
	return goerrors.NewValidation(
		fmt.Sprintf("%s is required", field),
		goerrors.FieldError{Field: field, Message: "is required"},
	).WithCode(http.StatusBadRequest).
		WithTextCode(ErrorMissingParameter).
		WithMetadata(map[string]any{"field": field})
}

// NewInvalidStateError keeps the cause for logs; callers only ever see the
// public message for INVALID_STATE.
func NewInvalidStateError(reason string, cause error) *goerrors.Error {
	message := "invalid state"
	if reason = strings.TrimSpace(reason); reason != "" {
		message = "invalid state: " + reason
	}
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryBadInput, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryBadInput)
	}
	return err.WithCode(http.StatusBadRequest).WithTextCode(ErrorInvalidState)
}

func NewProviderAuthorizationDeniedError(provider ProviderKind, code, description string) *goerrors.Error {
	code = strings.TrimSpace(code)
	description = strings.TrimSpace(description)
	message := code
	if description != "" {
		message = description
	}
	if message == "" {
		message = "access_denied"
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusForbidden).
		WithTextCode(ErrorProviderAuthorizationDenied).
		WithMetadata(map[string]any{
			"provider":          string(provider),
			"error":             code,
			"error_description": description,
		})
}

func NewTokenExchangeError(provider ProviderKind, cause error) *goerrors.Error {
	message := fmt.Sprintf("%s token exchange failed", provider)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	return err.WithCode(http.StatusBadGateway).
		WithTextCode(ErrorTokenExchangeFailure).
		WithMetadata(map[string]any{"provider": string(provider)})
}

func NewAccountInfoUnavailableError(provider ProviderKind, cause error) *goerrors.Error {
	message := fmt.Sprintf("%s account info unavailable", provider)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	return err.WithCode(http.StatusBadGateway).
		WithTextCode(ErrorAccountInfoUnavailable)
}

func NewConnectionExpiredError(key ConnectionKey, cause error) *goerrors.Error {
	message := fmt.Sprintf("connection %s expired and could not be refreshed", key)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryAuth, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryAuth)
	}
	return err.WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorConnectionExpired).
		WithMetadata(map[string]any{"tenant_id": key.TenantID, "provider": string(key.Provider)})
}

func NewSyncUnitError(provider ProviderKind, unitKey int, cause error) *goerrors.Error {
	message := fmt.Sprintf("%s unit %d failed", provider, unitKey)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	return err.WithCode(http.StatusBadGateway).
		WithTextCode(ErrorSyncUnitFailure).
		WithMetadata(map[string]any{"unit_key": unitKey})
}

func NewConnectionNotFoundError(key ConnectionKey) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("connection %s not found", key), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorConnectionNotFound).
		WithMetadata(map[string]any{"tenant_id": key.TenantID, "provider": string(key.Provider)})
}

func NewInvalidConnectionStateError(key ConnectionKey, reason string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("connection %s: %s", key, reason), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorInvalidConnectionState)
}

func NewSyncDisabledError(key ConnectionKey) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("sync is disabled for connection %s", key), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorSyncDisabled)
}

// NewRateLimitedError reports that calls to bucket are paused for retryAfter.
func NewRateLimitedError(bucket string, retryAfter time.Duration) *goerrors.Error {
	metadata := map[string]any{"bucket": bucket}
	if retryAfter > 0 {
		metadata["retry_after_ms"] = retryAfter.Milliseconds()
	}
	return goerrors.New(fmt.Sprintf("%s throttled for %s", bucket, retryAfter), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorRateLimited).
		WithMetadata(metadata)
}

func NewForbiddenError(actor Actor, action string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("actor %q may not %s for tenant %q", actor.ActorID, action, actor.TenantID), goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(ErrorForbidden)
}

func newUnknownProviderError(value string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("unknown provider %q", strings.TrimSpace(value)), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorUnknownProvider)
}

// HasTextCode reports whether err carries a go-errors envelope with the given text code.
func HasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// PublicMessage returns the user-safe message for err. Internal error text is
// never returned; provider denials surface the provider description.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return publicMessages[ErrorInternal]
	}
	switch rich.TextCode {
	case ErrorProviderAuthorizationDenied:
		if msg := sanitizeProviderMessage(rich.Message); msg != "" {
			return "Authorization denied: " + msg
		}
	case ErrorMissingParameter:
		if field, ok := rich.Metadata["field"].(string); ok && field != "" {
			return "Missing required parameter: " + field
		}
	}
	if msg, ok := publicMessages[rich.TextCode]; ok {
		return msg
	}
	return publicMessages[ErrorInternal]
}

const maxProviderMessageLength = 200

func sanitizeProviderMessage(message string) string {
	message = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, strings.TrimSpace(message))
	if len(message) > maxProviderMessageLength {
		message = message[:maxProviderMessageLength]
	}
	return strings.TrimSpace(message)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNonceReplayed):
		return NewInvalidStateError("nonce already used", err)
	case errors.Is(err, ErrInvalidUnitKey):
		return ensureServiceErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorConnectionNotFound
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorInvalidConnectionState
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
