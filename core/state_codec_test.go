package core

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func newTestStateCodec(t *testing.T, clock *fixedClock, opts ...StateCodecOption) *HMACStateCodec {
	t.Helper()
	base := []StateCodecOption{WithStateClock(clock.Now)}
	codec, err := NewHMACStateCodec("state-secret", append(base, opts...)...)
	if err != nil {
		t.Fatalf("new state codec: %v", err)
	}
	return codec
}

func TestHMACStateCodec_RoundTrip(t *testing.T) {
	clock := newFixedClock(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC))
	codec := newTestStateCodec(t, clock)
	ctx := context.Background()

	for _, tenantID := range []string{"T1", "tenant with spaces", "ümlaut-租户", strings.Repeat("x", 200)} {
		token, err := codec.Encode(ctx, tenantID, ProviderERP)
		if err != nil {
			t.Fatalf("encode %q: %v", tenantID, err)
		}
		if strings.ContainsAny(token, "+/=?&# ") {
			t.Fatalf("token %q is not query safe", token)
		}
		state, err := codec.Decode(ctx, token)
		if err != nil {
			t.Fatalf("decode %q: %v", tenantID, err)
		}
		if state.TenantID != tenantID || state.Provider != ProviderERP {
			t.Fatalf("round trip mismatch: got %#v want tenant %q", state, tenantID)
		}
		if !state.IssuedAt.Equal(clock.Now().Truncate(time.Second)) {
			t.Fatalf("unexpected issued at %s", state.IssuedAt)
		}
	}
}

func TestHMACStateCodec_RejectsStaleTokens(t *testing.T) {
	clock := newFixedClock(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC))
	codec := newTestStateCodec(t, clock, WithStateMaxAge(10*time.Minute))
	ctx := context.Background()

	token, err := codec.Encode(ctx, "T1", ProviderCalendarA)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	clock.Advance(10*time.Minute + time.Second)
	if _, err := codec.Decode(ctx, token); !HasTextCode(err, ErrorInvalidState) {
		t.Fatalf("expected stale token to be invalid, got %v", err)
	}
}

func TestHMACStateCodec_RejectsFutureTokens(t *testing.T) {
	clock := newFixedClock(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC))
	issuer := newTestStateCodec(t, clock)
	token, err := issuer.Encode(context.Background(), "T1", ProviderERP)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	earlier := newFixedClock(clock.Now().Add(-5 * time.Minute))
	verifier := newTestStateCodec(t, earlier)
	if _, err := verifier.Decode(context.Background(), token); !HasTextCode(err, ErrorInvalidState) {
		t.Fatalf("expected future token to be invalid, got %v", err)
	}
}

func TestHMACStateCodec_RejectsTamperedTenant(t *testing.T) {
	clock := newFixedClock(time.Now())
	codec := newTestStateCodec(t, clock)
	ctx := context.Background()

	token, err := codec.Encode(ctx, "T1", ProviderERP)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload, signature, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	forged := strings.Replace(string(raw), `"t":"T1"`, `"t":"T2"`, 1)
	tampered := base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + signature

	if _, err := codec.Decode(ctx, tampered); !HasTextCode(err, ErrorInvalidState) {
		t.Fatalf("expected tampered token to be invalid, got %v", err)
	}
}

func TestHMACStateCodec_RejectsOtherSecret(t *testing.T) {
	clock := newFixedClock(time.Now())
	codec := newTestStateCodec(t, clock)
	other, err := NewHMACStateCodec("another-secret", WithStateClock(clock.Now))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := other.Encode(context.Background(), "T1", ProviderERP)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.Decode(context.Background(), token); !HasTextCode(err, ErrorInvalidState) {
		t.Fatalf("expected foreign token to be invalid, got %v", err)
	}
}

func TestHMACStateCodec_SingleUseWithNonceRegistry(t *testing.T) {
	clock := newFixedClock(time.Now())
	codec := newTestStateCodec(t, clock, WithStateNonceRegistry(NewMemoryNonceRegistry(time.Minute)))
	ctx := context.Background()

	token, err := codec.Encode(ctx, "T1", ProviderERP)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.Decode(ctx, token); err != nil {
		t.Fatalf("first decode: %v", err)
	}
	if _, err := codec.Decode(ctx, token); !HasTextCode(err, ErrorInvalidState) {
		t.Fatalf("expected replay to be invalid, got %v", err)
	}
}

func TestHMACStateCodec_MalformedInputs(t *testing.T) {
	codec := newTestStateCodec(t, newFixedClock(time.Now()))
	inputs := []string{
		"",
		"   ",
		"abc",
		".",
		"a.",
		".b",
		"a.b.c",
		"!!!.###",
		base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c2ln",
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":""}`)) + ".c2ln",
		base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`)) + ".c2ln",
		strings.Repeat("z", maxStateTokenLength+1),
	}
	for _, input := range inputs {
		state, err := codec.Decode(context.Background(), input)
		if !HasTextCode(err, ErrorInvalidState) {
			t.Fatalf("input %q: expected invalid state, got %v", input, err)
		}
		if state.TenantID != "" {
			t.Fatalf("input %q: expected empty state, got %#v", input, state)
		}
	}
}

func TestHMACStateCodec_RequiresSecretAndTenant(t *testing.T) {
	if _, err := NewHMACStateCodec("  "); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
	codec := newTestStateCodec(t, newFixedClock(time.Now()))
	if _, err := codec.Encode(context.Background(), " ", ProviderERP); !HasTextCode(err, ErrorMissingParameter) {
		t.Fatalf("expected missing tenant error, got %v", err)
	}
}
