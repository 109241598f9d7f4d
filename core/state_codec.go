package core

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultStateMaxAge    = 15 * time.Minute
	defaultStateClockSkew = time.Minute
	stateNonceBytes       = 18
	maxStateTokenLength   = 2048
)

type statePayload struct {
	TenantID string `json:"t"`
	Provider string `json:"p,omitempty"`
	Nonce    string `json:"n"`
	IssuedAt int64  `json:"iat"`
}

// HMACStateCodec issues URL-safe state tokens of the form payload.signature.
// The signing key is derived per tenant from the configured secret, so a
// token minted for one tenant cannot be re-targeted to another.
type HMACStateCodec struct {
	secret    []byte
	maxAge    time.Duration
	clockSkew time.Duration
	nonces    NonceRegistry
	now       Clock
}

type StateCodecOption func(*HMACStateCodec)

func WithStateMaxAge(maxAge time.Duration) StateCodecOption {
	return func(c *HMACStateCodec) {
		if maxAge > 0 {
			c.maxAge = maxAge
		}
	}
}

func WithStateNonceRegistry(registry NonceRegistry) StateCodecOption {
	return func(c *HMACStateCodec) {
		c.nonces = registry
	}
}

func WithStateClock(clock Clock) StateCodecOption {
	return func(c *HMACStateCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

func NewHMACStateCodec(secret string, opts ...StateCodecOption) (*HMACStateCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("core: state secret is required")
	}
	codec := &HMACStateCodec{
		secret:    []byte(secret),
		maxAge:    defaultStateMaxAge,
		clockSkew: defaultStateClockSkew,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(codec)
	}
	return codec, nil
}

func (c *HMACStateCodec) Encode(_ context.Context, tenantID string, provider ProviderKind) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: state codec is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", NewMissingParameterError("tenant_id")
	}
	nonce, err := generateStateNonce()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(statePayload{
		TenantID: tenantID,
		Provider: string(provider),
		Nonce:    nonce,
		IssuedAt: c.now().UTC().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("core: encode state payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	signature := c.sign(tenantID, encoded)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// Decode verifies and parses a state token. Every failure, including a panic
// in the decoding path, is reported as INVALID_STATE.
func (c *HMACStateCodec) Decode(ctx context.Context, token string) (state AuthorizationState, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			state = AuthorizationState{}
			err = NewInvalidStateError("malformed token", fmt.Errorf("core: state decode panic: %v", recovered))
		}
	}()
	if c == nil {
		return AuthorizationState{}, NewInvalidStateError("codec not configured", nil)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return AuthorizationState{}, NewInvalidStateError("missing token", nil)
	}
	if len(token) > maxStateTokenLength {
		return AuthorizationState{}, NewInvalidStateError("token too long", nil)
	}
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" || strings.Contains(sig, ".") {
		return AuthorizationState{}, NewInvalidStateError("malformed token", nil)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return AuthorizationState{}, NewInvalidStateError("malformed payload", err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return AuthorizationState{}, NewInvalidStateError("malformed signature", err)
	}

	payload := statePayload{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AuthorizationState{}, NewInvalidStateError("malformed payload", err)
	}
	payload.TenantID = strings.TrimSpace(payload.TenantID)
	if payload.TenantID == "" {
		return AuthorizationState{}, NewInvalidStateError("missing tenant", nil)
	}
	if !hmac.Equal(signature, c.sign(payload.TenantID, encoded)) {
		return AuthorizationState{}, NewInvalidStateError("signature mismatch", nil)
	}
	if strings.TrimSpace(payload.Nonce) == "" || payload.IssuedAt <= 0 {
		return AuthorizationState{}, NewInvalidStateError("incomplete payload", nil)
	}

	issuedAt := time.Unix(payload.IssuedAt, 0).UTC()
	now := c.now().UTC()
	if now.Sub(issuedAt) > c.maxAge {
		return AuthorizationState{}, NewInvalidStateError("token expired", nil)
	}
	if issuedAt.Sub(now) > c.clockSkew {
		return AuthorizationState{}, NewInvalidStateError("token issued in the future", nil)
	}

	state = AuthorizationState{
		TenantID: payload.TenantID,
		Provider: ProviderKind(strings.TrimSpace(payload.Provider)),
		Nonce:    payload.Nonce,
		IssuedAt: issuedAt,
	}
	if c.nonces != nil {
		if err := c.nonces.Consume(ctx, payload.TenantID+":"+payload.Nonce, c.maxAge+c.clockSkew); err != nil {
			return AuthorizationState{}, NewInvalidStateError("token already used", err)
		}
	}
	return state, nil
}

func (c *HMACStateCodec) sign(tenantID string, encoded string) []byte {
	tenantKey := hmac.New(sha256.New, c.secret)
	tenantKey.Write([]byte(tenantID))
	mac := hmac.New(sha256.New, tenantKey.Sum(nil))
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}

func generateStateNonce() (string, error) {
	raw := make([]byte, stateNonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ StateCodec = (*HMACStateCodec)(nil)
